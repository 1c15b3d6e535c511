// Command tract loads a network description, drives it through the staged
// transformation pipeline, and dumps the resulting graph.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
