package main

import "github.com/frahmantamala/expense-claims/cmd"

func main() {
	cmd.Execute()
}
