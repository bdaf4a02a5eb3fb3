package main

import "os"

func main() {
	rootCmd := newRoot().Command()

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		switch err := err.(type) {
		case usageError:
			cmd.Println("")
			cmd.Println(cmd.UsageString())
			os.Exit(1)
		case deploymentError:
			// the report has already been printed; the exit status
			// carries the overall state
			os.Exit(err.code)
		default:
			os.Exit(1)
		}
	}
}
