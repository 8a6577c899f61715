package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cardfile/internal/card"
	"github.com/roach88/cardfile/internal/repository"
)

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Allocate the next card id",
		Long: `Allocate and print the next id from the shared counter without
creating a card. The id is consumed even if no card is ever written.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.ids.Next(commandContext(cmd))
			if err != nil {
				return out.Fail("failed to allocate id", err)
			}
			return out.Result(fmt.Sprint(id), map[string]int64{"id": id})
		},
	}
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	City      string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a card for an account",
		Long: `Allocate a number and write a new card in state city_selected.

City accepts the canonical names or the aliases A/moscow and B/other.

Example:
  cardfile create --user-id 12345 --username anna --city A`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "user-id", 0, "account id (required)")
	cmd.Flags().StringVar(&opts.Username, "username", "", "account username")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "account first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "account last name")
	cmd.Flags().StringVar(&opts.City, "city", "", "city: A|moscow|B|other (required)")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("city")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	city, err := card.ParseCity(opts.City)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --city", err)
	}

	a, err := openApp(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	meta := card.NewAccountMeta(opts.UserID)
	meta.Username = opts.Username
	meta.FirstName = opts.FirstName
	meta.LastName = opts.LastName

	c, err := a.repo.Create(commandContext(cmd), meta, city)
	if err != nil {
		return out.Fail("failed to create card", err)
	}
	return out.Result(card.FormatModeration(c), c)
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Show a card with its history",
		Long: `Load one card and print it with its full history.

The number may be given unpadded ("7") or decorated ("#0007").`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.repo.Load(args[0])
			if err != nil {
				return out.Fail(fmt.Sprintf("card %s", args[0]), err)
			}
			return out.Result(card.FormatDetailed(c), c)
		},
	}
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Fio      string
	Extra    string
	City     string
	Status   string
	Decision string
	Note     string
	Source   string
	Type     string
	Revision int64
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <number>",
		Short: "Patch card fields and append history",
		Long: `Overwrite the given fields of a card and optionally append a history
entry built from --note, --source and --type. Fields not named by a flag are
left untouched.

With --revision the update only applies if the card is still at that
revision, and bumps it on success.

Examples:
  cardfile update 7 --fio "Иванов Иван" --status fio_added --note "Иванов Иван"
  cardfile update 7 --extra "driver" --revision 2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fio, "fio", "", "applicant full name")
	cmd.Flags().StringVar(&opts.Extra, "extra", "", "supplementary note")
	cmd.Flags().StringVar(&opts.City, "city", "", "city: A|moscow|B|other")
	cmd.Flags().StringVar(&opts.Status, "status", "", "workflow status")
	cmd.Flags().StringVar(&opts.Decision, "decision", "", "decision: pending|approved|rejected")
	cmd.Flags().StringVar(&opts.Note, "note", "", "history entry text")
	cmd.Flags().StringVar(&opts.Source, "source", string(card.SourceUser), "history entry source: user|admin|system")
	cmd.Flags().StringVar(&opts.Type, "type", string(card.TypeText), "history entry type")
	cmd.Flags().Int64Var(&opts.Revision, "revision", -1, "apply only if the card is at this revision")

	return cmd
}

func runUpdate(opts *UpdateOptions, number string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	flags := cmd.Flags()

	var patch repository.Patch
	if flags.Changed("fio") {
		patch.Fio = repository.Ptr(opts.Fio)
	}
	if flags.Changed("extra") {
		patch.Extra = repository.Ptr(opts.Extra)
	}
	if flags.Changed("city") {
		city, err := card.ParseCity(opts.City)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --city", err)
		}
		patch.City = &city
	}
	if flags.Changed("status") {
		patch.Status = repository.Ptr(card.Status(opts.Status))
	}
	if flags.Changed("decision") {
		patch.Decision = repository.Ptr(card.Decision(opts.Decision))
	}

	var entry *card.HistoryEntry
	if flags.Changed("note") {
		e := card.NewHistoryEntry(card.Source(opts.Source), card.EntryType(opts.Type), opts.Note, nil)
		entry = &e
	}

	if patch.Empty() && entry == nil {
		return NewExitError(ExitCommandError, "nothing to update: pass at least one field flag or --note")
	}

	a, err := openApp(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Revision >= 0 {
		err = a.repo.UpdateIfRevision(number, opts.Revision, patch, entry)
	} else {
		err = a.repo.Update(number, patch, entry)
	}
	if err != nil {
		return out.Fail(fmt.Sprintf("failed to update card %s", number), err)
	}

	c, err := a.repo.Load(number)
	if err != nil {
		return out.Fail(fmt.Sprintf("card %s", number), err)
	}
	return out.Result(card.FormatModeration(c), c)
}

type decision string

const (
	decisionApprove decision = "approve"
	decisionReject  decision = "reject"
)

// NewDecideCommand creates the approve or reject command.
func NewDecideCommand(rootOpts *RootOptions, d decision) *cobra.Command {
	var adminID int64

	cmd := &cobra.Command{
		Use:   string(d) + " <number>",
		Short: strings.ToUpper(string(d[:1])) + string(d[1:]) + " a pending card",
		Long: `Record a moderation decision. A card is decided once: approving or
rejecting a card that is no longer pending fails and leaves it unchanged.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			meta := card.Meta{}
			if adminID != 0 {
				meta["admin_id"] = adminID
			}
			decide := a.repo.Approve
			if d == decisionReject {
				decide = a.repo.Reject
			}
			c, err := decide(args[0], meta)
			if err != nil {
				return out.Fail(fmt.Sprintf("failed to %s card %s", d, args[0]), err)
			}
			return out.Result(card.FormatModeration(c), c)
		},
	}

	cmd.Flags().Int64Var(&adminID, "admin-id", 0, "moderator account id recorded in history")
	return cmd
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	City   string
	UserID int64
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards ordered by id",
		Long: `List every readable card, or only those in one city or from one
account. Unreadable cards are skipped and recorded in the journal.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.City, "city", "", "only cards in this city: A|moscow|B|other")
	cmd.Flags().Int64Var(&opts.UserID, "user-id", 0, "only cards from this account")
	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	if opts.City != "" && opts.UserID != 0 {
		return NewExitError(ExitCommandError, "--city and --user-id are mutually exclusive")
	}

	var city card.City
	if opts.City != "" {
		c, err := card.ParseCity(opts.City)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --city", err)
		}
		city = c
	}

	a, err := openApp(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	var cards []card.Card
	switch {
	case city != "":
		cards, err = a.repo.QueryByCity(ctx, city)
	case opts.UserID != 0:
		cards, err = a.repo.FindByUser(ctx, opts.UserID)
	default:
		cards, err = a.repo.List(ctx)
	}
	if err != nil {
		return out.Fail("failed to list cards", err)
	}

	lines := make([]string, len(cards))
	for i := range cards {
		lines[i] = card.FormatListLine(&cards[i])
	}
	text := strings.Join(lines, "\n")
	if len(cards) == 0 {
		text = "No cards."
	}
	return out.Result(text, cards)
}
