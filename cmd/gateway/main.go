// Command gateway runs the LLM admission gateway.
package main

import "github.com/sentinelgate/gateway/cmd/gateway/cmd"

func main() {
	cmd.Execute()
}
