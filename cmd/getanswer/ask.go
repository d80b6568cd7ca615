package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/query"
)

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringP("image", "i", "", "Photo of the question to extract and answer")
	askCmd.Flags().StringP("text", "t", "", "Question text to answer without extraction")
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a photographed or typed question",
	Long: `Extract the question from a photo (--image) or take it as text (--text),
charge one inference and print the answer. A failed inference is refunded.`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, _ []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	text, _ := cmd.Flags().GetString("text")
	if (imagePath == "") == (text == "") {
		return errors.New("exactly one of --image or --text is required")
	}

	return withEngine(cmd, true, func(ctx context.Context, e *getanswer.Engine) error {
		var (
			res *getanswer.Result
			err error
		)
		if imagePath != "" {
			var img query.Image
			img, err = readImage(imagePath)
			if err != nil {
				return err
			}
			res, err = e.Pipeline().RunQuery(ctx, img)
		} else {
			res, err = e.Pipeline().Ask(ctx, text, nil)
		}
		if err != nil {
			return explain(err, e.Ledger().Balance(ctx))
		}

		if imagePath != "" {
			fmt.Fprintf(os.Stdout, "Question:\n%s\n\n", res.Entry.ExtractedText)
		}
		fmt.Fprintf(os.Stdout, "Answer:\n%s\n\n", res.Entry.AnswerText)
		fmt.Fprintf(os.Stdout, "Balance: %d credits\n", res.Balance)
		if res.Warning != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", res.Warning)
		}
		return nil
	})
}

func readImage(path string) (query.Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return query.Image{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return query.Image{}, fmt.Errorf("read image: %w", err)
	}
	return query.Image{
		Ref:      "file://" + abs,
		Data:     data,
		MIMEType: mime.TypeByExtension(filepath.Ext(abs)),
	}, nil
}

// explain rewrites the user-recoverable pipeline failures as plain messages.
func explain(err error, balance int64) error {
	switch {
	case errors.Is(err, getanswer.ErrInsufficientCredits):
		return fmt.Errorf("not enough credits (balance %d); add some with 'getanswer credits grant'", balance)
	case errors.Is(err, getanswer.ErrNoTextDetected):
		return errors.New("no text found in the image; try a clearer photo")
	}

	var perr *getanswer.PipelineError
	if errors.As(err, &perr) && perr.Refunded {
		return fmt.Errorf("%w (credits refunded)", err)
	}
	return err
}
