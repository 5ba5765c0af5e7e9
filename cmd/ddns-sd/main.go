// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/discourse/ddns-sd/cmd/ddns-sd/app"
)

func main() {
	cmd := app.NewCommand()
	cmd.SetContext(context.Background())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
