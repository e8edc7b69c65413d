package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"askweb/internal/agent"
	"askweb/internal/domain"
	"askweb/internal/view"
)

// CLI is an interactive terminal chat bound to one session.
type CLI struct {
	controller *agent.Controller
	session    *agent.Session
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer
	spinner    bool

	// state of the last turn
	inquiry *domain.Inquiry
	related []domain.RelatedQuery

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Controller *agent.Controller
	Session    *agent.Session
	Logger     *slog.Logger
	In         io.Reader
	Out        io.Writer
	// Spinner animates while the model is thinking. Off for non-terminals.
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		controller: cfg.Controller,
		session:    cfg.Session,
		logger:     cfg.Logger,
		in:         cfg.In,
		out:        cfg.Out,
		spinner:    cfg.Spinner,
	}
}

const cliHelp = `Commands:
  /skip         skip the clarifying question and search anyway
  /related N    ask the N-th related question
  /help         show this help
  /quit         exit
When a question lists options, answer with their numbers (e.g. "1,3"),
free text, or both ("1 only recent ones").`

// Run reads lines until EOF, /quit or ctx is done. Each line runs one turn.
func (c *CLI) Run(ctx context.Context) error {
	fmt.Fprintf(c.out, "askweb chat %s. Type /help for commands, /quit to exit.\n", c.session.ID())
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}

		in, quit, msg := c.parse(line)
		if quit {
			c.logger.Info("user requested quit")
			return nil
		}
		if msg != "" {
			fmt.Fprintln(c.out, msg)
			c.prompt()
			continue
		}

		if err := c.runTurn(ctx, in); err != nil {
			fmt.Fprintf(c.out, "\nerror: %v\n", err)
		}
		c.prompt()
	}
}

func (c *CLI) prompt() {
	if c.inquiry != nil {
		fmt.Fprint(c.out, "Answer> ")
		return
	}
	fmt.Fprint(c.out, "You> ")
}

// parse turns a line into a submission. msg is non-empty when the line was
// handled locally.
func (c *CLI) parse(line string) (in agent.Submission, quit bool, msg string) {
	switch {
	case line == "/quit" || line == "/exit" || line == "/q":
		return in, true, ""
	case line == "/help":
		return in, false, cliHelp
	case line == "/skip":
		if c.inquiry == nil {
			return in, false, "Nothing to skip."
		}
		return agent.Submission{Skip: true}, false, ""
	case strings.HasPrefix(line, "/related"):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/related")))
		if err != nil || n < 1 || n > len(c.related) {
			return in, false, fmt.Sprintf("Pick a related question between 1 and %d.", len(c.related))
		}
		return agent.Submission{Form: domain.Form{"related_query": c.related[n-1].Query}}, false, ""
	case strings.HasPrefix(line, "/"):
		return in, false, "Unknown command. Type /help."
	case c.inquiry != nil:
		return agent.Submission{Form: InquiryReply(c.inquiry, line)}, false, ""
	default:
		return agent.Submission{Form: domain.Form{"input": line}}, false, ""
	}
}

// InquiryReply builds the form answering inq. Leading option numbers
// ("1,3" or "1 3") check those options; the rest of the line becomes the
// additional query.
func InquiryReply(inq *domain.Inquiry, line string) domain.Form {
	form := domain.Form{}
	rest := line
	for {
		field, tail, _ := strings.Cut(strings.TrimLeft(rest, " ,"), " ")
		parts := strings.Split(field, ",")
		var picked []string
		for _, p := range parts {
			if p == "" {
				continue
			}
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > len(inq.Options) {
				picked = nil
				break
			}
			picked = append(picked, inq.Options[n-1].Value)
		}
		if len(picked) == 0 {
			break
		}
		for _, v := range picked {
			form[v] = "on"
		}
		rest = tail
	}
	if extra := strings.TrimSpace(strings.TrimLeft(rest, " ,")); extra != "" {
		form["additional_query"] = extra
	}
	if len(form) == 0 {
		form["additional_query"] = strings.TrimSpace(line)
	}
	return form
}

func (c *CLI) runTurn(ctx context.Context, in agent.Submission) error {
	turn := c.controller.Submit(ctx, c.session, in)

	c.inquiry = nil
	var (
		pending   *domain.Inquiry
		collapsed bool
		printed   bool
	)
	for u := range turn.Updates() {
		switch u.Kind {
		case agent.UpdateGenerating:
			if u.Flag {
				c.startThinking()
			} else {
				c.stopThinking()
			}
		case agent.UpdateCollapsed:
			collapsed = u.Flag
		case agent.UpdateComponent:
			if u.Node != nil && u.Node.Inquiry != nil {
				pending = u.Node.Inquiry
			}
		case agent.UpdateText:
			c.stopThinking()
			if u.Replace {
				if printed {
					fmt.Fprintln(c.out)
				}
				printed = u.Text != ""
			} else {
				printed = true
			}
			fmt.Fprint(c.out, u.Text)
		case agent.UpdateAppend:
			c.stopThinking()
			printed = c.render(u.Node, printed)
		}
	}
	c.stopThinking()

	if pending != nil && !collapsed {
		c.inquiry = pending
		c.renderInquiry(pending)
	}
	return turn.Wait()
}

// render prints a finished node. It reports whether the cursor is left
// mid-line.
func (c *CLI) render(n *view.Node, midLine bool) bool {
	if n == nil {
		return midLine
	}
	nl := func() {
		if midLine {
			fmt.Fprintln(c.out)
			midLine = false
		}
	}
	switch n.Kind {
	case view.KindSearchResults:
		nl()
		if n.Search == nil || len(n.Search.Results) == 0 {
			fmt.Fprintln(c.out, "[search] no results")
			break
		}
		fmt.Fprintf(c.out, "[search] %q\n", n.Search.Query)
		for i, r := range n.Search.Results {
			fmt.Fprintf(c.out, "  %d. %s <%s>\n", i+1, r.Title, r.URL)
		}
	case view.KindRetrieve:
		nl()
		fmt.Fprintln(c.out, "[retrieve] page fetched")
	case view.KindVideo:
		nl()
		if n.Videos != nil {
			fmt.Fprintf(c.out, "[videos] %d found\n", len(n.Videos.Videos))
		}
	case view.KindAnswer:
		nl()
	case view.KindRelated:
		nl()
		c.related = n.Related
		fmt.Fprintln(c.out, "Related:")
		for i, r := range n.Related {
			fmt.Fprintf(c.out, "  %d. %s\n", i+1, r.Query)
		}
	case view.KindTool:
		nl()
		fmt.Fprintf(c.out, "[%s] done\n", n.Tool)
	}
	return midLine
}

func (c *CLI) renderInquiry(inq *domain.Inquiry) {
	fmt.Fprintln(c.out, inq.Question)
	for i, o := range inq.Options {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, o.Label)
	}
	if inq.AllowsInput && inq.InputLabel != "" {
		fmt.Fprintf(c.out, "  (%s)\n", inq.InputLabel)
	}
	fmt.Fprintln(c.out, "Answer with option numbers and/or text, or /skip.")
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	stop, done := c.thinkStop, c.thinkDone
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Searching...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
