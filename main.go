package main

import "trip-installments/cmd"

func main() {
	cmd.Execute()
}
