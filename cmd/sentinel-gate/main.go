// Command sentinel-gate runs the containment gateway CLI.
package main

import "github.com/Sentinel-Gate/Sentinelgate/cmd/sentinel-gate/cmd"

func main() {
	cmd.Execute()
}
