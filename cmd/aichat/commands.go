package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"aichat/internal/adapter/tui/theme"
	"aichat/internal/domain"
	"aichat/internal/infra/config"
	"aichat/internal/usecase"
)

func runConversations(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs, cfgFlag := newFlagSet("conversations " + sub)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()

	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "list":
		printConversations(os.Stdout, a.state.Conversations(), a.state.CurrentConversationID())
		return nil
	case "show":
		if len(rest) != 1 {
			return usage("aichat conversations show <id>")
		}
		if err := a.showConversation(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Print(a.printer.Transcript(a.view.Messages()))
		return nil
	case "rename":
		if len(rest) < 2 {
			return usage("aichat conversations rename <id> <name>")
		}
		return a.state.RenameConversation(ctx, rest[0], strings.Join(rest[1:], " "))
	case "delete":
		if len(rest) != 1 {
			return usage("aichat conversations delete <id>")
		}
		return a.state.DeleteConversation(ctx, rest[0])
	default:
		return usage("aichat conversations [list|show|rename|delete]")
	}
}

func printConversations(w io.Writer, convs []domain.Conversation, current string) {
	if len(convs) == 0 {
		fmt.Fprintln(w, theme.TextMuted.Render("No conversations yet."))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tMESSAGES\tLAST ACTIVE\tMODEL")
	for _, c := range convs {
		mark := " "
		if c.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%d\t%s\t%s\n",
			mark, c.ID, c.Name, c.MessageCount, c.LastActivity().Local().Format(time.DateTime), c.Model)
	}
	tw.Flush()
}

func runProviders(args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	fs, cfgFlag := newFlagSet("providers " + sub)
	var (
		id, name, typ, key, baseURL string
		models                      string
		useKeyring                  bool
	)
	if sub == "add" {
		fs.StringVar(&id, "id", "", "provider ID (required)")
		fs.StringVar(&name, "name", "", "display name")
		fs.StringVar(&typ, "type", string(domain.ProviderOpenRouter), "openrouter, openai or custom")
		fs.StringVar(&key, "key", "", "API key")
		fs.StringVar(&baseURL, "base-url", "", "endpoint base URL (custom providers)")
		fs.StringVar(&models, "models", "", "comma-separated model IDs")
		fs.BoolVar(&useKeyring, "keyring", false, "store the key in the OS keychain")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()

	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "list":
		printProviders(os.Stdout, a.state)
		return nil
	case "add":
		p := domain.ProviderConfig{
			ID:      id,
			Name:    name,
			Type:    domain.ProviderType(typ),
			APIKey:  key,
			BaseURL: baseURL,
		}
		if p.Name == "" {
			p.Name = id
		}
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				p.SelectedModels = append(p.SelectedModels, domain.Model{ID: m})
			}
		}
		if useKeyring && key != "" {
			ref, err := config.StoreKeyring(id, key)
			if err != nil {
				return domain.NewDomainError("providers add", domain.ErrConfiguration, err.Error())
			}
			p.APIKey = ref
		}
		if err := a.state.AddProvider(ctx, p); err != nil {
			return err
		}
		fmt.Printf("%s provider %s added and selected\n", theme.TextSuccess.Render(theme.Symbols.Success), id)
		return nil
	case "remove":
		if len(rest) != 1 {
			return usage("aichat providers remove <id>")
		}
		return a.state.DeleteProvider(ctx, rest[0])
	case "select":
		if len(rest) < 1 || len(rest) > 2 {
			return usage("aichat providers select <id> [model]")
		}
		if err := a.state.SelectProvider(ctx, rest[0]); err != nil {
			return err
		}
		if len(rest) == 2 {
			return a.state.SelectModel(ctx, rest[1])
		}
		return nil
	default:
		return usage("aichat providers [list|add|remove|select]")
	}
}

func printProviders(w io.Writer, state *usecase.AppState) {
	providers := state.Providers()
	if len(providers) == 0 {
		fmt.Fprintln(w, theme.TextMuted.Render("No providers configured. Add one with 'aichat providers add'."))
		return
	}
	selected, _ := state.SelectedProvider()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTYPE\tKEY\tMODELS")
	for _, p := range providers {
		mark := " "
		if p.ID == selected.ID {
			mark = "*"
		}
		ids := make([]string, 0, len(p.SelectedModels))
		for _, m := range p.SelectedModels {
			id := m.ID
			if p.ID == selected.ID && id == state.SelectedModel() {
				id = "[" + id + "]"
			}
			ids = append(ids, id)
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", mark, p.ID, p.Type, keyKind(p.APIKey), strings.Join(ids, ", "))
	}
	tw.Flush()
}

// keyKind describes where a provider key comes from without printing it.
func keyKind(key string) string {
	switch {
	case key == "":
		return "missing"
	case strings.HasPrefix(key, "keyring:"):
		return "keyring"
	case strings.HasPrefix(key, "enc:"):
		return "encrypted"
	default:
		return "set"
	}
}

func runExport(args []string) error {
	fs, cfgFlag := newFlagSet("export")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.state.Export(ctx)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%s backup written to %s\n", theme.TextSuccess.Render(theme.Symbols.Success), *out)
	return nil
}

func runImport(args []string) error {
	fs, cfgFlag := newFlagSet("import")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usage("aichat import <file>")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	convs, msgs, err := a.state.Import(ctx, data)
	if err != nil {
		return err
	}
	fmt.Printf("%s imported %d conversations and %d messages\n",
		theme.TextSuccess.Render(theme.Symbols.Success), convs, msgs)
	return nil
}

func runStats(args []string) error {
	fs, cfgFlag := newFlagSet("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.state.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderStats(st))
	return nil
}

func renderStats(st domain.StoreStats) string {
	row := func(label string, value string) string {
		return theme.StatLabel.Render(fmt.Sprintf("%-14s", label)) + theme.StatValue.Render(value)
	}
	return theme.Card.Render(strings.Join([]string{
		row("Conversations", fmt.Sprint(st.ConversationCount)),
		row("Messages", fmt.Sprint(st.MessageCount)),
		row("Size", humanBytes(st.TotalSize)),
	}, "\n"))
}

func humanBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

func runClear(args []string) error {
	fs, cfgFlag := newFlagSet("clear")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes && !confirm(os.Stdin, os.Stdout, "Delete all conversations and messages?") {
		return nil
	}

	ctx := context.Background()
	a, err := openApp(ctx, *cfgFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.state.ClearAllData(ctx); err != nil {
		return err
	}
	fmt.Println(theme.TextMuted.Render("All conversations deleted."))
	return nil
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func usage(line string) error {
	return domain.NewDomainError("usage", domain.ErrValidation, "Usage: "+line)
}
