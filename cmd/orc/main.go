// Command orc is the orchestrator's CLI: operator commands for tasks,
// projects, and workers, a one-shot dispatch cycle, and the serve command
// that runs the kernel and its HTTP/WebSocket gateway.
package main

func main() {
	Execute()
}
