// Command forkful is the CLI front end for the forkful daemon. It submits
// extraction jobs, follows their progress, and acts on the recipes they
// produce over the daemon's Unix socket.
package main
