package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mmchat/internal/api"
	"mmchat/internal/conversation"
)

const chatHelp = `commands:
  /sessions        list sessions
  /switch <n>      switch to session n
  /new             start a new session
  /delete          delete the current session
  /image <path>    attach an image to the next message
  /open <n>        download message n's image and print its local path
  /help            show this help
  /quit            exit`

func printSessions(ctrl *conversation.Controller) {
	sessions := ctrl.Sessions()
	if len(sessions) == 0 {
		fmt.Println("no sessions yet; just type a message to start one")
		return
	}
	current, _ := ctrl.Current()
	for i, s := range sessions {
		marker := " "
		if s.ID == current.ID {
			marker = "*"
		}
		fmt.Printf("%s %2d  %s\n", marker, i+1, s.Title)
	}
}

func printMessages(msgs []api.Message) {
	for i, m := range msgs {
		if m.ImagePath != "" {
			fmt.Printf("%2d %s: %s [image: %s]\n", i+1, m.Role, m.Content, m.ImagePath)
		} else {
			fmt.Printf("%2d %s: %s\n", i+1, m.Role, m.Content)
		}
	}
}

// runChat drives the conversation controller from a plain line-based REPL.
func runChat(ctx context.Context, client *api.Client) error {
	ctrl := conversation.New(client)
	ctrl.RefreshSessions(ctx)
	printSessions(ctrl)
	printMessages(ctrl.Messages())

	pendingImage := ""
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("type a message, or /help for commands")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" && pendingImage == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cmd, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch cmd {
			case "/quit", "/exit":
				return nil
			case "/help":
				fmt.Println(chatHelp)
			case "/sessions":
				ctrl.RefreshSessions(ctx)
				printSessions(ctrl)
			case "/switch":
				n, err := strconv.Atoi(arg)
				sessions := ctrl.Sessions()
				if err != nil || n < 1 || n > len(sessions) {
					fmt.Println("usage: /switch <n>")
					continue
				}
				ctrl.SelectSession(ctx, sessions[n-1].ID)
				printMessages(ctrl.Messages())
			case "/new":
				ctrl.CreateSession(ctx)
				printSessions(ctrl)
			case "/delete":
				current, ok := ctrl.Current()
				if !ok {
					fmt.Println("no current session")
					continue
				}
				ctrl.DeleteSession(ctx, current.ID)
				printSessions(ctrl)
				printMessages(ctrl.Messages())
			case "/image":
				if arg == "" {
					fmt.Println("usage: /image <path>")
					continue
				}
				pendingImage = arg
				fmt.Printf("will attach %s to the next message\n", arg)
			case "/open":
				n, err := strconv.Atoi(arg)
				msgs := ctrl.Messages()
				if err != nil || n < 1 || n > len(msgs) {
					fmt.Println("usage: /open <n>")
					continue
				}
				if msgs[n-1].ImagePath == "" {
					fmt.Println("that message has no image")
					continue
				}
				path, err := client.DownloadImage(ctx, msgs[n-1].ImagePath)
				if err != nil {
					fmt.Printf("download failed: %v\n", err)
					continue
				}
				fmt.Println(path)
			default:
				fmt.Println("unknown command; /help lists commands")
			}
			continue
		}

		err := ctrl.SendMessage(ctx, line, pendingImage)
		if errors.Is(err, conversation.ErrNoCurrentSession) {
			// A fresh session now exists; resubmit the pending message.
			err = ctrl.SendMessage(ctx, line, pendingImage)
		}
		if err != nil {
			fmt.Printf("not sent: %v\n", err)
			continue
		}
		pendingImage = ""
		printMessages(ctrl.Messages())
	}
}
