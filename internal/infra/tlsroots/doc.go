// Package tlsroots loads TLS material for the backup service and its
// clients.
//
//   - roots.go: trusted CA pools for clients
//   - watcher.go: server key pair reloaded when the files change
package tlsroots
