package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/urbanrisk/internal/api"
	"github.com/lox/urbanrisk/internal/briefing"
	"github.com/lox/urbanrisk/internal/ingest"
	"github.com/lox/urbanrisk/internal/models"
	"github.com/lox/urbanrisk/internal/realtime"
	"github.com/lox/urbanrisk/internal/risk"
	"github.com/lox/urbanrisk/internal/store"
)

type Globals struct {
	EnvFile      kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`
	DB           string                   `help:"Path to SQLite database." default:"data/urbanrisk.db" env:"URBANRISK_DB"`
	GraphFile    string                   `name:"graph" help:"Cascade graph YAML; the built-in graph when empty." env:"URBANRISK_GRAPH" type:"path"`
	EngineConfig string                   `help:"Engine calibration override YAML." env:"URBANRISK_ENGINE_CONFIG" type:"path"`
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"1" help:"Serve the API and poll feeds."`
	Assess   AssessCmd   `cmd:"" help:"Print the risk assessment of a city."`
	Simulate SimulateCmd `cmd:"" help:"Run a what-if scenario for a city."`
	Graph    GraphCmd    `cmd:"" help:"Validate the cascade graph and print it."`
	Ingest   IngestCmd   `cmd:"" help:"Pull the configured feeds."`
	Import   ImportCmd   `cmd:"" help:"Load a feed document from disk."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("urbanrisk"),
		kong.Description("Urban risk intelligence engine."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (g *Globals) openStore() (*store.Store, func(), error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

// loadEngine exits the process on a broken cascade graph.
func (g *Globals) loadEngine() *risk.Engine {
	graph, err := risk.LoadGraph(g.GraphFile)
	if err != nil {
		var gie *risk.GraphIntegrityError
		if errors.As(err, &gie) {
			log.Fatalf("refusing to start: %v", err)
		}
		log.Fatalf("load graph: %v", err)
	}
	cfg, err := risk.LoadConfig(g.EngineConfig)
	if err != nil {
		log.Fatalf("load engine config: %v", err)
	}
	engine, err := risk.NewEngine(graph, cfg)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	return engine
}

func feedSources(locations []string) ([]ingest.Source, error) {
	var sources []ingest.Source
	for _, loc := range locations {
		src, err := ingest.NewSource(loc)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ServeCmd struct {
	Port            string        `help:"HTTP server port." default:"8080" env:"PORT"`
	Feeds           []string      `help:"Feed locations (http, https, ftp or file paths)." env:"URBANRISK_FEEDS"`
	NoPoll          bool          `help:"Disable feed polling (server only, for local dev)."`
	FeedInterval    time.Duration `help:"Feed polling period." default:"10m"`
	RefreshInterval time.Duration `help:"Prediction refresh period." default:"1m"`
	Retention       time.Duration `help:"How long archived feed documents are kept." default:"720h"`
	OpenAIKey       string        `help:"Enables scenario briefings." env:"OPENAI_API_KEY"`
}

func (c *ServeCmd) Run(g *Globals) error {
	engine := g.loadEngine()
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	log.Println("database migrated")

	sources, err := feedSources(c.Feeds)
	if err != nil {
		return err
	}

	tracker := realtime.NewTracker(realtime.DefaultCapacity, realtime.DefaultHalfLife)
	hub := realtime.NewHub(tracker)
	server := api.NewServer(st, engine, hub, tracker, c.Port)

	if gen, err := briefing.NewGenerator(c.OpenAIKey); err != nil {
		log.Printf("scenario briefings disabled: %v", err)
	} else {
		server.SetBriefer(gen)
	}

	scheduler := ingest.NewScheduler(st, engine, hub, sources)
	scheduler.SetIntervals(c.FeedInterval, c.RefreshInterval)
	scheduler.SetRetention(c.Retention)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoPoll {
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	return server.Run(ctx)
}

type AssessCmd struct {
	City  string `help:"City name." required:""`
	State string `help:"State name, for disambiguation."`
}

func (c *AssessCmd) Run(g *Globals) error {
	engine := g.loadEngine()
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	cs, err := loadCity(st, c.City, c.State)
	if err != nil {
		return err
	}
	a, err := engine.Assess(*cs)
	if err != nil {
		return err
	}
	return printJSON(a)
}

func loadCity(st *store.Store, city, state string) (*models.CurrentState, error) {
	city, state = strings.ToLower(city), strings.ToLower(state)
	cs, err := st.GetCurrentState(city, state)
	if err != nil {
		return nil, err
	}
	if cs == nil || !cs.HasPrimaryData() {
		return nil, &risk.MissingDataError{City: city}
	}
	return cs, nil
}

type SimulateCmd struct {
	City   string             `help:"City name." required:""`
	State  string             `help:"State name, for disambiguation."`
	Set    map[string]float64 `help:"Indicator value to apply, as name=value. Repeatable."`
	Preset string             `help:"Preset intervention to apply before --set values."`
}

func (c *SimulateCmd) Run(g *Globals) error {
	engine := g.loadEngine()
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	cs, err := loadCity(st, c.City, c.State)
	if err != nil {
		return err
	}

	mods := models.Modification{}
	if c.Preset != "" {
		preset, ok := risk.LookupPreset(c.Preset)
		if !ok {
			return fmt.Errorf("unknown preset %q", c.Preset)
		}
		mods = preset.Apply(*cs)
	}
	for name, v := range c.Set {
		mods[models.Indicator(name)] = v
	}
	if len(mods) == 0 {
		return errors.New("nothing to simulate: pass --set or --preset")
	}

	res, err := engine.Simulate(*cs, mods)
	if err != nil {
		return err
	}
	return printJSON(res)
}

type GraphCmd struct{}

func (c *GraphCmd) Run(g *Globals) error {
	engine := g.loadEngine()
	graph := engine.Graph()

	order := graph.TopologicalOrder()
	names := make([]string, len(order))
	for i, n := range order {
		names[i] = string(n)
	}
	fmt.Printf("graph ok: %d edges\n", len(graph.Edges()))
	fmt.Printf("order: %s\n", strings.Join(names, " -> "))
	for _, e := range graph.Edges() {
		fmt.Println(" ", e)
	}
	return nil
}

type IngestCmd struct {
	Feeds []string `help:"Feed locations (http, https, ftp or file paths)." env:"URBANRISK_FEEDS" required:""`
	Once  bool     `help:"Ingest once and exit."`
}

func (c *IngestCmd) Run(g *Globals) error {
	engine := g.loadEngine()
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	sources, err := feedSources(c.Feeds)
	if err != nil {
		return err
	}
	scheduler := ingest.NewScheduler(st, engine, nil, sources)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.Once {
		scheduler.Run(ctx)
		return nil
	}

	log.Println("running single ingestion")
	if err := scheduler.IngestOnce(ctx); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	scheduler.RefreshPredictions()
	log.Println("done")
	return nil
}

type ImportCmd struct {
	File string `arg:"" help:"Feed document (JSON)." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := ingest.NewIngester(st).Ingest(context.Background(), ingest.FileSource{Path: c.File})
	if err != nil {
		return err
	}
	fmt.Printf("imported %s: %d records, %d stored, %d rejected\n", c.File, res.Parsed, res.Stored, res.Rejected)
	return nil
}
