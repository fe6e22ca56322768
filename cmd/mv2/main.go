// Package main provides mv2, a command-line front end for memvid stores:
// create, put, get, stats, verify, ticket, lock/unlock, and an
// interactive shell.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"

	"github.com/maxgoff/memvid/pkg/capsule"
	"github.com/maxgoff/memvid/pkg/memvid"
)

// Config holds CLI defaults loaded from the config file.
type Config struct {
	Store        string `json:"store,omitempty"`
	WALSizeBytes uint64 `json:"wal_size_bytes,omitempty"` //nolint:tagliatelle // snake_case for config file
	Tier         string `json:"tier,omitempty"`
}

// configPath returns the default config file location:
// $XDG_CONFIG_HOME/mv2/config.json or ~/.config/mv2/config.json.
func configPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mv2", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "mv2", "config.json")
}

// loadConfig reads an optional HuJSON config file. A missing file is not
// an error.
func loadConfig(path string) (Config, error) {
	var cfg Config

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

func parseTier(s string) (memvid.Tier, error) {
	switch strings.ToLower(s) {
	case "", "free":
		return memvid.TierFree, nil
	case "standard":
		return memvid.TierStandard, nil
	case "premium":
		return memvid.TierPremium, nil
	default:
		return 0, fmt.Errorf("unknown tier %q (free, standard, premium)", s)
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)

		return 1
	}

	cmd, rest := args[0], args[1:]

	var err error

	switch cmd {
	case "create":
		err = cmdCreate(rest)
	case "put":
		err = cmdPut(rest)
	case "get":
		err = cmdGet(rest)
	case "stats":
		err = cmdStats(rest)
	case "verify":
		err = cmdVerify(rest)
	case "ticket":
		err = cmdTicket(rest)
	case "lock":
		err = cmdLock(rest)
	case "unlock":
		err = cmdUnlock(rest)
	case "shell":
		err = cmdShell(rest)
	case "help", "--help", "-h":
		usage(os.Stdout)

		return 0
	default:
		fmt.Fprintf(os.Stderr, "mv2: unknown command %q\n", cmd)
		usage(os.Stderr)

		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		return 1
	}

	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: mv2 <command> [flags]

commands:
  create <path>             create a new store
  put <path> <file|->       insert a payload
  get <path> <frame-id>     print a payload
  stats <path>              show store statistics
  verify <path>             check store integrity
  ticket <path>             apply a control-plane ticket
  lock <in> <out>           seal a store into an encrypted capsule
  unlock <in> <out>         restore a store from a capsule
  shell <path>              interactive session`)
}

// storeOptions resolves create-time options from flags and config.
func storeOptions(cfg Config, walSize uint64, tierName string) (memvid.Options, error) {
	if walSize == 0 {
		walSize = cfg.WALSizeBytes
	}

	if tierName == "" {
		tierName = cfg.Tier
	}

	tier, err := parseTier(tierName)
	if err != nil {
		return memvid.Options{}, err
	}

	return memvid.Options{Tier: tier, WALSize: walSize}, nil
}

func cmdCreate(args []string) error {
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	configFile := flags.String("config", configPath(), "config file")
	walSize := flags.Uint64("wal-size", 0, "WAL region size in bytes")
	tierName := flags.String("tier", "", "capacity tier (free, standard, premium)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}

	path := cfg.Store
	if flags.NArg() > 0 {
		path = flags.Arg(0)
	}

	if path == "" {
		return errors.New("store path is required")
	}

	opts, err := storeOptions(cfg, *walSize, *tierName)
	if err != nil {
		return err
	}

	m, err := memvid.CreateWith(path, opts)
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	fmt.Printf("created %s (memory id %s, tier %s)\n", path, m.MemoryID(), m.Tier())

	return nil
}

func cmdPut(args []string) error {
	flags := pflag.NewFlagSet("put", pflag.ContinueOnError)
	title := flags.String("title", "", "frame title")
	uri := flags.String("uri", "", "source URI")
	kind := flags.String("kind", "", "content kind")
	labels := flags.StringSlice("label", nil, "labels (repeatable)")
	tags := flags.StringToString("tag", nil, "key=value tags (repeatable)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 2 {
		return errors.New("usage: mv2 put <path> <file|->")
	}

	path, input := flags.Arg(0), flags.Arg(1)

	var (
		payload []byte
		err     error
	)

	if input == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(input)
	}

	if err != nil {
		return err
	}

	m, err := memvid.Open(path)
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	id, err := m.PutBytesWithOptions(payload, memvid.PutOptions{
		Title:  *title,
		URI:    *uri,
		Kind:   *kind,
		Labels: *labels,
		Tags:   *tags,
	})
	if err != nil {
		return err
	}

	if err := m.Commit(); err != nil {
		return err
	}

	fmt.Printf("frame %d (%d bytes)\n", id, len(payload))

	return nil
}

func cmdGet(args []string) error {
	flags := pflag.NewFlagSet("get", pflag.ContinueOnError)
	output := flags.StringP("output", "o", "", "write payload to file instead of stdout")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 2 {
		return errors.New("usage: mv2 get <path> <frame-id>")
	}

	id, err := strconv.ParseUint(flags.Arg(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid frame id %q", flags.Arg(1))
	}

	m, err := memvid.OpenReadOnly(flags.Arg(0))
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	payload, _, err := m.Get(id)
	if err != nil {
		return err
	}

	if *output != "" {
		return os.WriteFile(*output, payload, 0o644)
	}

	_, err = os.Stdout.Write(payload)

	return err
}

func cmdStats(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: mv2 stats <path>")
	}

	m, err := memvid.OpenReadOnly(args[0])
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	stats, err := m.Stats()
	if err != nil {
		return err
	}

	printStats(os.Stdout, &stats)

	return nil
}

func printStats(w io.Writer, s *memvid.Stats) {
	fmt.Fprintf(w, "frames:        %d (%d active)\n", s.FrameCount, s.ActiveFrameCount)
	fmt.Fprintf(w, "file size:     %d bytes\n", s.SizeBytes)
	fmt.Fprintf(w, "payload:       %d bytes (%d logical, %d saved)\n", s.PayloadBytes, s.LogicalBytes, s.SavedBytes)
	fmt.Fprintf(w, "compression:   %.2f%% (savings %.2f%%)\n", s.CompressionRatioPercent, s.SavingsPercent)
	fmt.Fprintf(w, "wal region:    %d bytes\n", s.WALBytes)
	fmt.Fprintf(w, "tier:          %s\n", s.Tier)

	if s.CapacityBytes > 0 {
		fmt.Fprintf(w, "capacity:      %d bytes (%.2f%% used, %d remaining)\n",
			s.CapacityBytes, s.StorageUtilisationPercent, s.RemainingCapacityBytes)
	}

	if s.SeqNo != nil {
		fmt.Fprintf(w, "ticket seq:    %d\n", *s.SeqNo)
	}

	fmt.Fprintf(w, "indexes:       lex=%v vec=%v clip=%v time=%v\n",
		s.HasLexIndex, s.HasVecIndex, s.HasClipIndex, s.HasTimeIndex)

	if s.VectorCount > 0 {
		fmt.Fprintf(w, "vectors:       %d (%d bytes)\n", s.VectorCount, s.VecIndexBytes)
	}

	if s.ClipImageCount > 0 {
		fmt.Fprintf(w, "clip images:   %d\n", s.ClipImageCount)
	}
}

func cmdVerify(args []string) error {
	flags := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	deep := flags.Bool("deep", false, "verify every frame payload checksum")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 1 {
		return errors.New("usage: mv2 verify <path>")
	}

	report, err := memvid.Verify(flags.Arg(0), *deep)
	if err != nil {
		return err
	}

	fmt.Printf("status: %s\n", report.Status)

	for _, d := range report.Diagnostics {
		fmt.Printf("  [%s] %s\n", d.Check, d.Detail)
	}

	if report.Status != memvid.VerifyOk {
		return errors.New("verification failed")
	}

	return nil
}

func cmdTicket(args []string) error {
	flags := pflag.NewFlagSet("ticket", pflag.ContinueOnError)
	issuer := flags.String("issuer", "", "ticket issuer")
	seq := flags.Int64("seq", 0, "ticket sequence number")
	expires := flags.Uint64("expires", 0, "expiry window in seconds")
	capacity := flags.Uint64("capacity", 0, "capacity cap in bytes (0 = unbounded)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() < 1 || *issuer == "" || *seq == 0 {
		return errors.New("usage: mv2 ticket <path> --issuer <name> --seq <n>")
	}

	m, err := memvid.Open(flags.Arg(0))
	if err != nil {
		return err
	}

	defer func() { _ = m.Close() }()

	ticket := memvid.NewTicket(*issuer, *seq).WithExpiry(*expires)
	if *capacity > 0 {
		ticket = ticket.WithCapacity(*capacity)
	}

	if err := m.ApplyTicket(ticket); err != nil {
		return err
	}

	ref := m.CurrentTicket()
	fmt.Printf("applied ticket seq %d from %s\n", ref.SeqNo, ref.Issuer)

	return nil
}

// readPassword takes the capsule password from $MV2_PASSWORD or prompts
// without echo.
func readPassword() (string, error) {
	if pw := os.Getenv("MV2_PASSWORD"); pw != "" {
		return pw, nil
	}

	prompt := liner.NewLiner()
	defer prompt.Close()

	pw, err := prompt.PasswordPrompt("password: ")
	if err != nil {
		return "", err
	}

	if pw == "" {
		return "", errors.New("empty password")
	}

	return pw, nil
}

func cmdLock(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: mv2 lock <in.mv2> <out.mv2e>")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	if err := capsule.Lock(args[0], args[1], password); err != nil {
		return err
	}

	fmt.Printf("sealed %s -> %s\n", args[0], args[1])

	return nil
}

func cmdUnlock(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: mv2 unlock <in.mv2e> <out.mv2>")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}

	if err := capsule.Unlock(args[0], args[1], password); err != nil {
		return err
	}

	fmt.Printf("restored %s -> %s\n", args[0], args[1])

	return nil
}
