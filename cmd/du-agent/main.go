// Command du-agent is the device-side update orchestration agent binary,
// following the teacher's multi-binary cmd/<name>/main.go layout
// (cmd/mcp-server/main.go: a thin main delegating to the shared cmd
// package's Execute()).
package main

import "github.com/Azure/iot-hub-device-update-core/cmd"

func main() {
	cmd.Execute()
}
