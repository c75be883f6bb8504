// Command submit posts an archive to a running supervisor and,
// optionally, stands up a one-shot listener for the completion callback
// and pretty-prints the result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/jamox/tmc-sandbox/api"
	"github.com/jamox/tmc-sandbox/internal/notify/termnotif"
)

func main() {
	cmd := &cli.Command{
		Name:      "submit",
		Usage:     "submit an archive to a sandbox supervisor",
		ArgsUsage: "<archive.tar>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Value: "http://localhost:3001/tasks.json",
				Usage: "submission endpoint",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "opaque token echoed in the callback",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Value: true,
				Usage: "listen for the completion callback and print it",
			},
			&cli.DurationFlag{
				Name:  "wait-timeout",
				Value: 5 * time.Minute,
				Usage: "how long to wait for the callback",
			},
		},
		Action: submit,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one archive argument")
	}
	archivePath := cmd.Args().First()

	var notifyUrl string
	var callback chan api.Notification
	if cmd.Bool("wait") {
		var err error
		notifyUrl, callback, err = startCallbackListener()
		if err != nil {
			return err
		}
	}

	status, err := postArchive(cmd.String("server"), archivePath, notifyUrl, cmd.String("token"))
	if err != nil {
		return err
	}

	switch status {
	case api.SubmitOk:
		color.Green("submission accepted")
	case api.SubmitBusy:
		color.Yellow("supervisor is busy")
		return nil
	default:
		color.Red("submission rejected: %s", status)
		return fmt.Errorf("submission rejected with status %s", status)
	}

	if callback == nil {
		return nil
	}

	select {
	case n := <-callback:
		return termnotif.New().Notify(n)
	case <-time.After(cmd.Duration("wait-timeout")):
		return fmt.Errorf("timed out waiting for the completion callback")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startCallbackListener serves one notification POST on an ephemeral
// port and delivers it on the returned channel.
func startCallbackListener() (string, chan api.Notification, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to open callback listener: %w", err)
	}

	callback := make(chan api.Notification, 1)
	go func() {
		_ = http.Serve(listener, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(400)
				return
			}
			n := api.Notification{
				Status:     api.RunStatus(r.PostFormValue(api.FieldStatus)),
				TestOutput: r.PostFormValue(api.FieldTestOutput),
				Stdout:     r.PostFormValue(api.FieldStdout),
				Stderr:     r.PostFormValue(api.FieldStderr),
			}
			if raw := r.PostFormValue(api.FieldExitCode); raw != "" {
				if code, err := strconv.Atoi(raw); err == nil {
					n.ExitCode = &code
				}
			}
			select {
			case callback <- n:
			default:
			}
		}))
	}()

	return fmt.Sprintf("http://%s/", listener.Addr()), callback, nil
}

func postArchive(server string, archivePath string, notifyUrl string, token string) (api.SubmitStatus, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "submission.tar")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if notifyUrl != "" {
		if err := mw.WriteField("notify", notifyUrl); err != nil {
			return "", err
		}
	}
	if token != "" {
		if err := mw.WriteField("token", token); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := http.Post(server, mw.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("failed to post submission: %w", err)
	}
	defer resp.Body.Close()

	var decoded api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Status, nil
}
