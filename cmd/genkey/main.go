package main

import (
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eldtechnologies/streamchat/internal/crypto"
)

func main() {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	fmt.Printf("Address:     %s\n", crypto.AddressOf(key).Hex())
	fmt.Printf("Private key: %s\n", crypto.EncodePrivateKey(key))
}
