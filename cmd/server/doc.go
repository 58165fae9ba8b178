// Command server runs the chat transport gateway.
package main
