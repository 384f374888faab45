package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"multichat-backend/internal/model"
	"multichat-backend/internal/service"
)

func newNewCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			conv, err := e.chat.CreateConversation(title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
}

func newListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := e.chat.ListConversations()
			if err != nil {
				return err
			}
			for _, c := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s  %3d msgs  %s\n",
					c.ID, c.Title, c.MessageCount, c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := e.chat.GetConversation(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n", conv.Title)
			for i := range conv.Messages {
				printMessage(cmd, &conv.Messages[i])
			}
			return nil
		},
	}
}

func printMessage(cmd *cobra.Command, msg *model.Message) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%s] %s\n", msg.Role, msg.ID)
	if msg.Batch == nil {
		fmt.Fprintf(out, "%s\n\n", msg.Content)
		return
	}

	b := msg.Batch
	fmt.Fprintf(out, "%d/%d succeeded (%s)", b.SuccessCount, b.TotalCount, b.Phase)
	if msg.MergeVersions {
		fmt.Fprint(out, ", merged into history")
	}
	fmt.Fprintln(out)
	for i, r := range b.Results {
		mark := " "
		if i == b.Selected {
			mark = "*"
		}
		switch r.State {
		case model.ResultSucceeded:
			fmt.Fprintf(out, "%s %d: %s\n", mark, i, r.Content)
		case model.ResultFailed:
			fmt.Fprintf(out, "%s %d: %s\n", mark, i, service.FailureContent(r.Error))
		default:
			fmt.Fprintf(out, "%s %d: (pending)\n", mark, i)
		}
	}
	fmt.Fprintln(out)
}

type turnFlags struct {
	concurrent int
	model      string
	prompt     string
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.concurrent, "concurrent", "n", 0, "number of parallel requests for this turn")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model for this turn")
	cmd.Flags().StringVarP(&f.prompt, "system", "s", "", "system prompt preset or text for this turn")
}

func (f *turnFlags) overrides() model.TurnOverrides {
	var o model.TurnOverrides
	if f.concurrent > 0 {
		o.ConcurrentCount = &f.concurrent
	}
	if f.model != "" {
		o.Model = &f.model
	}
	if f.prompt != "" {
		o.SystemPrompt = &f.prompt
	}
	return o
}

func printTurn(cmd *cobra.Command, res *service.TurnResult) error {
	if res.Message != nil {
		printMessage(cmd, res.Message)
	}
	return res.Err
}

func newSendCmd(e *env) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <message>",
		Short: "Send a message and wait for every answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.chat.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "), nil, flags.overrides())
			if err != nil {
				return err
			}
			return printTurn(cmd, res)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRegenerateCmd(e *env) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "regenerate <conversation-id> <assistant-message-id>",
		Short: "Drop an answer and everything after it, then ask again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := e.chat.Regenerate(cmd.Context(), args[0], args[1], flags.overrides())
			if err != nil {
				return err
			}
			return printTurn(cmd, res)
		},
	}
	flags.register(cmd)
	return cmd
}

func newSelectCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "select <conversation-id> <message-id> <index>",
		Short: "Pick which answer of a batch is shown",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[2])
			}
			msg, err := e.chat.SelectResult(args[0], args[1], index)
			if err != nil {
				return err
			}
			printMessage(cmd, msg)
			return nil
		},
	}
}

func newMergeCmd(e *env) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "merge <conversation-id> <message-id>",
		Short: "Feed every successful answer of a batch into later turns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := e.chat.SetMergeVersions(args[0], args[1], !off)
			if err != nil {
				return err
			}
			printMessage(cmd, msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "turn merging off again")
	return cmd
}

func newCloneCmd(e *env) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "clone <conversation-id>",
		Short: "Copy a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clones, err := e.chat.CloneConversation(args[0], count)
			if err != nil {
				return err
			}
			for _, c := range clones {
				fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of copies")
	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.chat.DeleteConversation(args[0])
		},
	}
}

func newSetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a global setting",
		Long:  "Store a global setting. Values that parse as JSON are stored as such, anything else as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.settings.Set(args[0], parseValue(args[1]))
		},
	}
}

func parseValue(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
