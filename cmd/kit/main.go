// Command kit runs the processes of a kit project: the web server, task
// workers, the interactive shell and the monitoring dashboard.
package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/phrazzld/kit/examples/poller"
	_ "github.com/phrazzld/kit/examples/viewtracker"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
