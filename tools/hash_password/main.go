package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"msg-gateway/pkg/password"
)

// 生成运营账号的bcrypt哈希，填入 auth.operators[].passwordHash
func main() {
	var plain string
	if len(os.Args) > 1 {
		plain = os.Args[1]
	} else {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "read password failed: %v\n", err)
			os.Exit(1)
		}
		plain = strings.TrimRight(line, "\r\n")
	}

	hash, err := password.Hash(plain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash password failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
