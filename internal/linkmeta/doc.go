// Package linkmeta resolves display titles for submitted recipe links.
package linkmeta
