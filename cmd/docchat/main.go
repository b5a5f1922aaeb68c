// Command docchat is an interactive terminal client for the document
// analysis service: a line-oriented shell over the conversation store and
// the message exchange. All chat logic lives in the internal packages; this
// file is wiring and display only.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"docchat/internal/domain"
	"docchat/internal/exchange"
	"docchat/internal/integrations/analysis"
	"docchat/internal/integrations/paramstore"
	"docchat/internal/storage"
	"docchat/internal/store"
)

const welcomeText = "Welcome to the Document Analysis System. " +
	"Upload a PDF document for analysis or ask a question about a previously uploaded document."

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// ---- Configuration (read only here) ----
	endpoint := mustEnv("ANALYSIS_URL")
	dbPath := envStr("DOCCHAT_DB", defaultDBPath())
	paramPrefix := os.Getenv("PARAM_PREFIX")

	// ---- Storage ----
	kv, err := storage.Open(dbPath)
	if err != nil {
		logger.Error("failed to open storage", "path", dbPath, "err", err)
		os.Exit(1)
	}
	defer kv.Close()

	conversations, err := store.New(kv, logger)
	if err != nil {
		logger.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}

	// ---- Analysis client, optionally with an SSM-held API key ----
	var clientOpts []analysis.Option
	if paramPrefix != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			logger.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			logger.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		keyParam := strings.TrimRight(paramPrefix, "/") + "/analysis-api-key"
		clientOpts = append(clientOpts, analysis.WithAPIKey(ssmClient, keyParam))
	}
	client, err := analysis.NewClient(endpoint, clientOpts...)
	if err != nil {
		logger.Error("failed to create analysis client", "err", err)
		os.Exit(1)
	}

	// ---- Exchange ----
	ex, err := exchange.New(conversations, client, terminalNotifier{}, logger,
		exchange.WithListener(func(ev exchange.Event) {
			if ev.Phase == exchange.PhasePending {
				fmt.Println("analyzing...")
			}
		}))
	if err != nil {
		logger.Error("failed to create message exchange", "err", err)
		os.Exit(1)
	}

	// Best-effort notice when another session touches the same partition.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go conversations.Watch(watchCtx, 2*time.Second, func() {
		fmt.Println("[Storage changed] conversations were updated by another session; /list to refresh")
	})

	runShell(ctx, conversations, ex)
}

// terminalNotifier prints transient notices, the toast analog.
type terminalNotifier struct{}

func (terminalNotifier) Notify(title, detail string) {
	fmt.Printf("[%s] %s\n", title, detail)
}

func runShell(ctx context.Context, conversations *store.Store, ex *exchange.Exchange) {
	active := conversations.GetOrCreateActive()
	showRaw := false

	fmt.Println(welcomeText)
	printConversation(active, showRaw)
	fmt.Println("Type a message, or /help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Printf("%s> ", active.Title)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			result := ex.Send(ctx, active.ID, line)
			switch result.Status {
			case exchange.StatusBusy:
				fmt.Println("a request is already in flight for this conversation")
			case exchange.StatusRejected:
				// nothing to send
			default:
				active = result.Conversation
				printMessage(result.Reply, showRaw)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "new":
			active = conversations.Create(nil)
			conversations.SetActiveID(active.ID)
			fmt.Printf("started %s\n", active.Title)
		case "list":
			printSummaries(conversations.ListAll())
		case "search":
			printSummaries(conversations.Search(arg))
		case "open":
			conv, ok := conversations.Get(arg)
			if !ok {
				fmt.Printf("no conversation %q\n", arg)
				continue
			}
			active = conv
			conversations.SetActiveID(active.ID)
			printConversation(active, showRaw)
		case "rename":
			conversations.Rename(active.ID, arg)
			if conv, ok := conversations.Get(active.ID); ok {
				active = conv
			}
		case "delete":
			conversations.Delete(active.ID)
			active = conversations.GetOrCreateActive()
			fmt.Printf("now in %s\n", active.Title)
		case "attach":
			attachFile(ex, arg)
		case "detach":
			ex.ClearStagedFile()
			fmt.Println("staged file cleared")
		case "raw":
			showRaw = !showRaw
			fmt.Printf("raw responses: %v\n", showRaw)
		default:
			fmt.Printf("unknown command /%s\n", cmd)
		}
	}
}

func attachFile(ex *exchange.Exchange, path string) {
	if path == "" {
		fmt.Println("usage: /attach <path>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("cannot read %s: %v\n", path, err)
		return
	}
	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	// StageFile validates and reports rejections through the notifier.
	_ = ex.StageFile(analysis.NewFile(name, contentType, data))
}

func printConversation(conv domain.Conversation, showRaw bool) {
	fmt.Printf("--- %s ---\n", conv.Title)
	for _, msg := range conv.Messages {
		printMessage(msg, showRaw)
	}
}

func printMessage(msg domain.Message, showRaw bool) {
	speaker := "assistant"
	if msg.Type == domain.MessageUser {
		speaker = "you"
	}
	fmt.Printf("%s: %s\n", speaker, exchange.FormatMessage(msg))
	if showRaw {
		if raw, ok := exchange.RawResponse(msg); ok {
			fmt.Println(raw)
		}
	}
}

func printSummaries(summaries []domain.ConversationSummary) {
	if len(summaries) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-24s %s\n", s.ID, s.Title, s.LastMessage)
	}
}

func printHelp() {
	fmt.Print(`commands:
  /new              start a new conversation
  /list             list conversations
  /search <query>   search titles and messages
  /open <id>        switch conversation
  /rename <title>   rename the current conversation
  /delete           delete the current conversation
  /attach <path>    stage a PDF for the next message
  /detach           clear the staged file
  /raw              toggle raw response display
  /quit             exit
`)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docchat.db"
	}
	return filepath.Join(home, ".docchat", "docchat.db")
}
