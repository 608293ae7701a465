package main

import "github.com/frahmantamala/counseling-booking/cmd"

func main() {
	cmd.Execute()
}
