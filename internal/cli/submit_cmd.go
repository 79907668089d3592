package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alexanderramin/dayplan/internal/cli/formatter"
	"github.com/alexanderramin/dayplan/internal/mutation"
	"github.com/spf13/cobra"
)

func newSubmitCmd(a *App) *cobra.Command {
	var approve, reject, asJSON bool

	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Review and apply operations proposed by an assistant",
		Long: `Reads assistant output from a file, or from stdin when no file is given,
extracts the proposed add/update/delete operations and validates them
without touching storage. The proposal is then approved or rejected as a
whole; approved operations are applied and verified.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve && reject {
				return errors.New("--yes and --reject are mutually exclusive")
			}
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			prop, err := p.Mutations.SubmitRaw(ctx, raw)
			if err != nil {
				return err
			}
			if prop.State == mutation.ProposalInvalid {
				if asJSON {
					_ = printJSON(out, prop)
				} else {
					fmt.Fprint(out, formatter.FormatProposal(prop))
				}
				return errors.New("no operation passed validation")
			}
			if !asJSON {
				fmt.Fprint(out, formatter.FormatProposal(prop))
			}

			choice := decisionApprove
			switch {
			case reject:
				choice = decisionReject
			case approve:
			case a.interactive():
				n := prop.Count(mutation.StatusPending)
				ok, err := a.confirm(fmt.Sprintf("Apply %d operation(s)?", n), "Invalid operations are skipped.")
				if err != nil {
					return err
				}
				if !ok {
					choice = decisionReject
				}
			default:
				_, _ = p.Mutations.Reject(ctx, prop.ID)
				return errors.New("proposal needs a decision; pass --yes or --reject")
			}

			var decided *mutation.Proposal
			if choice == decisionApprove {
				decided, err = p.Mutations.Approve(ctx, prop.ID)
			} else {
				decided, err = p.Mutations.Reject(ctx, prop.ID)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(out, decided)
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, formatter.FormatProposal(decided))
			if choice == decisionApprove && decided.Count(mutation.StatusApplied) > 0 {
				fmt.Fprint(out, formatter.FormatMismatches(p.Mutations.Verify(ctx, decided.Results)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&approve, "yes", "y", false, "Approve without asking")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject without asking")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the decided proposal as JSON")
	return cmd
}

type decision int

const (
	decisionApprove decision = iota
	decisionReject
)

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading proposal: %w", err)
	}
	return string(data), nil
}
