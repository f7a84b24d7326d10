// Command mapapp はMapAppのWebサーバー、ワーカー、マイグレーションを起動する。
//
//	mapapp [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/mapapp/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mapapp: %v\n", err)
		os.Exit(1)
	}
}
