package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vivaneiona/secretary"
)

type document = map[string]any

func newExtractCmd(g *globalFlags) *cobra.Command {
	var (
		inputs  []string
		urls    []string
		partial bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a JSON object from the input",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.session(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			input, err := readInput(ctx, s.log, inputs, urls)
			if err != nil {
				return err
			}
			provider, cleanup, err := buildProvider(ctx, s.cfg, s.log)
			if err != nil {
				return err
			}
			defer cleanup()

			x := secretary.NewWithLogger[document](provider, s.log)
			var out *document
			switch s.mode {
			case secretary.ModeFields:
				out, err = x.GenerateFields(ctx, s.task, input, s.cfg.options()...)
			case secretary.ModeForce:
				out, err = x.ForceGenerate(ctx, s.task, input, s.cfg.options()...)
			default:
				out, err = x.Generate(ctx, s.task, input, s.cfg.options()...)
			}

			var fe *secretary.FieldDeserializationError
			if errors.As(err, &fe) && partial {
				for _, f := range fe.FailedFields() {
					s.log.Warn("Field failed", "field", f, "error", fe.Failed[f].Err)
				}
				out, err = secretary.DecodePartial[document](fe)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input file, - for stdin (repeatable)")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "page to fetch as input (repeatable)")
	cmd.Flags().BoolVar(&partial, "partial", false, "print the fields that succeeded when others fail")
	return cmd
}

func newPromptCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the compiled prompts of the selected mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.session(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch s.mode {
			case secretary.ModeFields:
				prompts, err := s.task.FieldPrompts()
				if err != nil {
					return err
				}
				for i, fp := range prompts {
					if i > 0 {
						fmt.Fprintln(w)
					}
					fmt.Fprintf(w, "### %s (%s)\n%s\n", fp.Path, fp.Type, fp.Prompt)
				}
				return nil
			case secretary.ModeForce:
				prompt, err := s.task.ForcePrompt()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, prompt)
				return err
			default:
				prompt, err := s.task.SystemPrompt()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, prompt)
				return err
			}
		},
	}
}

func newExplainCmd(g *globalFlags) *cobra.Command {
	var (
		inputs    []string
		urls      []string
		format    string
		costs     bool
		tokenizer string
	)
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Show the execution plan and estimated cost without calling the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.session(cmd)
			if err != nil {
				return err
			}
			f, err := secretary.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			input := "(no input)"
			if len(inputs) > 0 || len(urls) > 0 {
				if input, err = readInput(ctx, s.log, inputs, urls); err != nil {
					return err
				}
			}

			// planning never sends anything, so no credentials are needed
			x := secretary.NewWithLogger[document](secretary.NewMockProvider(""), s.log)
			var pricing map[string]secretary.ModelPrice
			if costs {
				pricing = secretary.DefaultModelPricing()
			}
			opts := s.cfg.options()
			switch tokenizer {
			case "heuristic":
				opts = append(opts, secretary.WithTokenCounter(secretary.HeuristicCounter{}))
			case "tiktoken", "":
			default:
				return fmt.Errorf("unknown tokenizer %q", tokenizer)
			}
			plan, err := x.Explain(ctx, s.mode, s.task, input, pricing, opts...)
			if err != nil {
				return err
			}
			out, err := secretary.FormatPlan(plan, f)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), strings.TrimRight(out, "\n")+"\n")
			return err
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input file used for token estimates")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "page used for token estimates")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "text, json or dot")
	cmd.Flags().BoolVar(&costs, "costs", true, "include USD estimates from the built-in price table")
	cmd.Flags().StringVar(&tokenizer, "tokenizer", "tiktoken", "tiktoken or heuristic (offline)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
