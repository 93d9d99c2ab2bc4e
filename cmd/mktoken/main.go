// mktoken prints a session token for local testing.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/npezzotti/eventchat/internal/api"
	"github.com/npezzotti/eventchat/internal/types"
)

func main() {
	var (
		signingKey string
		user       types.User
		exp        time.Duration
	)

	flag.StringVar(&signingKey, "signing-key", os.Getenv("EVENTCHAT_SIGNING_KEY"), "base64 encoded signing key")
	flag.StringVar(&user.Id, "user", "", "user id")
	flag.StringVar(&user.FirstName, "first-name", "", "first name")
	flag.StringVar(&user.Username, "username", "", "username")
	flag.StringVar(&user.ProfileImageUrl, "image", "", "profile image url")
	flag.DurationVar(&exp, "exp", 24*time.Hour, "token lifetime")
	flag.Parse()

	logger := log.New(os.Stderr, "[mktoken] ", 0)

	if signingKey == "" || user.Id == "" {
		flag.Usage()
		os.Exit(2)
	}

	key, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		logger.Fatal("decode signing key:", err)
	}

	token, err := api.NewSessionToken(key, user, exp)
	if err != nil {
		logger.Fatal("sign token:", err)
	}

	fmt.Println(token)
}
