package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

const usage = `usage: admin <command> [flags]

commands:
  worlds     list the relay's world catalog
  export     download a world snapshot to a file
  import     upload a snapshot file to the relay
  notice     broadcast a system notice
  reset      broadcast a reset for one world
  db         inspect the relay sqlite store offline
  audit      print block changes from the audit log
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "worlds":
		err = worldsCmd(ctx, args)
	case "export":
		err = exportCmd(ctx, args)
	case "import":
		err = importCmd(ctx, args)
	case "notice":
		err = noticeCmd(ctx, args)
	case "reset":
		err = resetCmd(ctx, args)
	case "db":
		err = dbCmd(ctx, args)
	case "audit":
		err = auditCmd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
