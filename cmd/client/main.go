package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
	"minimal-sessions/client"
	"minimal-sessions/configs"
)

var logger = logrus.New()

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go <userID>")
		return
	}
	userID := os.Args[1]

	// Per-user env files let two consoles run from the same directory.
	if err := godotenv.Load(".env." + userID); err != nil {
		godotenv.Load(".env")
	}

	signer, err := client.ParseSigner(os.Getenv("SIGNING_KEY"))
	if err != nil {
		fmt.Printf("Failed to load SIGNING_KEY: %v\n", err)
		return
	}
	signingKey, err := signer.PublicKey()
	if err != nil {
		fmt.Printf("Failed to derive signing public key: %v\n", err)
		return
	}
	exchangeKey := os.Getenv("EXCHANGE_PUBLIC_KEY")
	if exchangeKey == "" {
		fmt.Println("EXCHANGE_PUBLIC_KEY is not set; run gen_keys first")
		return
	}

	serverAddress := os.Getenv("SERVER_ADDRESS")
	if serverAddress == "" {
		serverAddress = configs.ServerAddress
	}
	api := client.NewSessionClient("http://"+serverAddress, userID)

	// Keep log output off the terminal the console draws on.
	logFile, err := os.OpenFile(userID+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err == nil {
		logger.SetOutput(logFile)
		defer logFile.Close()
	}

	if _, err := api.PutKeys(context.Background(), exchangeKey, signingKey); err != nil {
		logger.Fatalf("Error publishing keys: %v", err)
	}

	console := client.NewConsole(api, signer, logger)
	if err := console.InitGui(); err != nil {
		logger.Fatalf("Error initializing gocui interface: %v", err)
	}
	defer console.Gui.Close()

	if err := console.PromptPeerID(); err != nil {
		logger.Fatalf("Error prompting peer ID: %v", err)
	}

	if err := console.Gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		logger.Fatalf("Error in gocui main loop: %v", err)
	}

	logger.Info("Application exited.")
}
