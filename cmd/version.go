package cmd

// Version is the application version, intended to be set at build time.
// Example: go build -ldflags "-X github.com/protolith/excavate/cmd.Version=1.0.0"
var Version = "0.1.0"
