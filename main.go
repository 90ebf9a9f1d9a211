// Command asteroniris runs the agent gateway CLI: onboarding, the chat/
// cron gateway, auth profile management, and environment diagnostics.
package main

import "github.com/asteroniris-dev/asteroniris/cmd"

func main() {
	cmd.Execute()
}
