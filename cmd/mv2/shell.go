package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/maxgoff/memvid/pkg/memvid"
)

// shell is the interactive command loop over one open store handle.
type shell struct {
	mem   *memvid.Memvid
	liner *liner.State
}

var shellCommands = []string{
	"put", "get", "del", "stats", "ticket", "search", "commit", "help", "exit", "quit",
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".mv2_history")
}

func cmdShell(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: mv2 shell <path>")
	}

	m, err := memvid.Open(args[0])
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	sh := &shell{mem: m}

	return sh.run()
}

func (s *shell) run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(func(line string) []string {
		var out []string

		for _, c := range shellCommands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}

		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = s.liner.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("mv2 shell - %s (memory id %s)\n", s.mem.Path(), s.mem.MemoryID())
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := s.liner.Prompt("mv2> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()

				s.saveHistory()

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd, rest := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			s.saveHistory()

			return nil

		case "help", "?":
			s.printHelp()

		case "put":
			s.cmdPut(rest)

		case "get":
			s.cmdGet(rest)

		case "del", "delete":
			s.cmdDelete(rest)

		case "stats":
			s.cmdStats()

		case "ticket":
			s.cmdTicket(rest)

		case "search":
			s.cmdSearch(rest)

		case "commit":
			s.cmdCommit()

		default:
			fmt.Printf("unknown command %q; type 'help'\n", cmd)
		}
	}
}

func (s *shell) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = s.liner.WriteHistory(f)
	_ = f.Close()
}

func (s *shell) printHelp() {
	fmt.Println(`commands:
  put <text...>          insert text as a frame
  get <frame-id>         print a frame payload
  del <frame-id>         delete a frame
  stats                  show store statistics
  ticket <issuer> <seq>  apply a ticket
  search <query...>      run a search
  commit                 publish pending mutations
  exit                   commit and leave`)
}

func (s *shell) cmdPut(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: put <text...>")

		return
	}

	id, err := s.mem.PutBytes([]byte(strings.Join(args, " ")))
	if err != nil {
		fmt.Printf("put failed: %v\n", err)

		return
	}

	fmt.Printf("frame %d\n", id)
}

func (s *shell) cmdGet(args []string) {
	id, ok := s.parseID(args, "get")
	if !ok {
		return
	}

	payload, frame, err := s.mem.Get(id)
	if err != nil {
		fmt.Printf("get failed: %v\n", err)

		return
	}

	if frame.Meta.Title != "" {
		fmt.Printf("# %s\n", frame.Meta.Title)
	}

	fmt.Println(string(payload))
}

func (s *shell) cmdDelete(args []string) {
	id, ok := s.parseID(args, "del")
	if !ok {
		return
	}

	if err := s.mem.Delete(id); err != nil {
		fmt.Printf("delete failed: %v\n", err)

		return
	}

	fmt.Printf("frame %d deleted\n", id)
}

func (s *shell) parseID(args []string, cmd string) (uint64, bool) {
	if len(args) != 1 {
		fmt.Printf("usage: %s <frame-id>\n", cmd)

		return 0, false
	}

	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("invalid frame id %q\n", args[0])

		return 0, false
	}

	return id, true
}

func (s *shell) cmdStats() {
	stats, err := s.mem.Stats()
	if err != nil {
		fmt.Printf("stats failed: %v\n", err)

		return
	}

	printStats(os.Stdout, &stats)
}

func (s *shell) cmdTicket(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: ticket <issuer> <seq>")

		return
	}

	seq, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Printf("invalid sequence %q\n", args[1])

		return
	}

	if err := s.mem.ApplyTicket(memvid.NewTicket(args[0], seq)); err != nil {
		fmt.Printf("ticket failed: %v\n", err)

		return
	}

	fmt.Printf("ticket seq %d applied\n", seq)
}

func (s *shell) cmdSearch(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: search <query...>")

		return
	}

	resp, err := s.mem.Search(&memvid.SearchRequest{
		Query: strings.Join(args, " "),
		TopK:  10,
	})
	if err != nil {
		fmt.Printf("search failed: %v\n", err)

		return
	}

	if resp.TotalHits == 0 {
		fmt.Println("no hits (no search delegate registered)")

		return
	}

	for _, hit := range resp.Hits {
		fmt.Printf("%8d  %.3f  %s\n", hit.FrameID, hit.Score, hit.Text)
	}
}

func (s *shell) cmdCommit() {
	if err := s.mem.Commit(); err != nil {
		fmt.Printf("commit failed: %v\n", err)

		return
	}

	fmt.Printf("committed (generation %d)\n", s.mem.Generation())
}
