// Package main (cmd/walletkey) generates the hex key files read by
// --key-file and prints the account a configured key signs as.
package main
