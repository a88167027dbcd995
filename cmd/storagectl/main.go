package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ruteri/tiered-storage/api"
	"github.com/ruteri/tiered-storage/api/clients"
	"github.com/ruteri/tiered-storage/cmd/flags"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/urfave/cli/v2"
)

var flagOut = &cli.StringFlag{
	Name:    "out",
	Aliases: []string{"o"},
	Usage:   "write the value to this file instead of stdout",
}

var flagFile = &cli.StringFlag{
	Name:    "file",
	Aliases: []string{"f"},
	Usage:   "read the value from this file instead of stdin",
}

var flagTTL = &cli.DurationFlag{
	Name:  "ttl",
	Usage: "expiry hint for providers that support it, e.g. 1h",
}

// errExit signals a negative answer without printing an error.
var errExit = cli.Exit("", 1)

func keyArg(cCtx *cli.Context) (string, error) {
	if cCtx.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one key argument, got %d", cCtx.NArg())
	}
	return cCtx.Args().First(), nil
}

func objectClient(cCtx *cli.Context) api.ObjectProvider {
	return &clients.ObjectClient{ServerAddr: cCtx.String(flags.ServerAddrFlag.Name)}
}

func main() {
	app := &cli.App{
		Name:  "storagectl",
		Usage: "Read and write keys of a tiered storage server",
		Flags: append([]cli.Flag{flags.ServerAddrFlag}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "fetch a value",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{flagOut},
				Action:    cmdGet,
			},
			{
				Name:      "set",
				Usage:     "store a value in every tier",
				ArgsUsage: "<key>",
				Flags:     []cli.Flag{flagFile, flagTTL},
				Action:    cmdSet,
			},
			{
				Name:      "exists",
				Usage:     "check whether a key is stored; exits 1 when it is not",
				ArgsUsage: "<key>",
				Action:    cmdExists,
			},
			{
				Name:      "delete",
				Usage:     "remove a key from every tier",
				ArgsUsage: "<key>",
				Action:    cmdDelete,
			},
			{
				Name:      "info",
				Usage:     "print the metadata of a key as JSON",
				ArgsUsage: "<key>",
				Action:    cmdInfo,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func cmdGet(cCtx *cli.Context) error {
	key, err := keyArg(cCtx)
	if err != nil {
		return err
	}
	logger := flags.SetupLogger(cCtx)

	rc, err := objectClient(cCtx).GetStream(cCtx.Context, key)
	if errors.Is(err, interfaces.ErrNotFound) {
		logger.Error("Key not found", "key", key)
		return errExit
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	var out io.Writer = os.Stdout
	if path := cCtx.String(flagOut.Name); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("could not create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := io.Copy(out, rc)
	if err != nil {
		return fmt.Errorf("could not write value: %w", err)
	}
	logger.Debug("Fetched value", "key", key, "size", n)
	return nil
}

func cmdSet(cCtx *cli.Context) error {
	key, err := keyArg(cCtx)
	if err != nil {
		return err
	}
	logger := flags.SetupLogger(cCtx)

	var body io.Reader = os.Stdin
	if path := cCtx.String(flagFile.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("could not open input file: %w", err)
		}
		defer f.Close()
		body = f
	}

	stored, err := objectClient(cCtx).Set(cCtx.Context, key, body, cCtx.Duration(flagTTL.Name))
	if err != nil {
		return err
	}
	if !stored {
		logger.Warn("Value was not stored by every eligible provider", "key", key)
		return errExit
	}
	logger.Info("Stored value", "key", key)
	return nil
}

func cmdExists(cCtx *cli.Context) error {
	key, err := keyArg(cCtx)
	if err != nil {
		return err
	}

	exists, err := objectClient(cCtx).Exists(cCtx.Context, key)
	if err != nil {
		return err
	}
	fmt.Println(exists)
	if !exists {
		return errExit
	}
	return nil
}

func cmdDelete(cCtx *cli.Context) error {
	key, err := keyArg(cCtx)
	if err != nil {
		return err
	}

	deleted, err := objectClient(cCtx).Delete(cCtx.Context, key)
	if err != nil {
		return err
	}
	fmt.Println(deleted)
	return nil
}

func cmdInfo(cCtx *cli.Context) error {
	key, err := keyArg(cCtx)
	if err != nil {
		return err
	}

	info, err := objectClient(cCtx).Info(cCtx.Context, key)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
