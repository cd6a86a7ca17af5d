// Command limitwatch tracks usage quotas across AI provider accounts.
package main

import "github.com/j-veylop/limitwatch/internal/cli"

func main() {
	cli.Execute()
}
