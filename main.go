package main

import "github.com/Sobilo34/hedera-hack-cppay-sub000/cmd"

func main() {
	cmd.Execute()
}
