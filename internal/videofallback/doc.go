// Package videofallback downloads a video the server could not fetch, relays
// it through the upload endpoint, and resumes the paused extraction job.
package videofallback
