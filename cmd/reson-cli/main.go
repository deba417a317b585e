package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/cognicore/reson/pkg/reson"
	"github.com/cognicore/reson/pkg/reson/config"
	"github.com/cognicore/reson/pkg/reson/store"
	"github.com/cognicore/reson/pkg/reson/store/memstore"
	"github.com/cognicore/reson/pkg/reson/store/sqlite"
	"github.com/cognicore/reson/pkg/reson/term"
)

func main() {
	var (
		kbPath  = flag.String("kb", "", "Knowledge-base YAML file (required)")
		dbPath  = flag.String("db", "", "SQLite database path (default: in-memory store)")
		queryF  = flag.String("query", "", "Single query to run, e.g. 'ancestor(alice, X)'")
		explain = flag.Bool("explain", false, "Print how each answer was derived")
	)
	flag.Parse()

	if *kbPath == "" {
		log.Fatal("--kb required")
	}

	ctx := context.Background()

	loader := config.Loader{KnowledgeBasePath: *kbPath}
	components, err := loader.Load()
	if err != nil {
		log.Fatalf("load knowledge base: %v", err)
	}

	var st store.Store
	if *dbPath != "" {
		st, err = sqlite.OpenSQLite(ctx, *dbPath)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
	} else {
		st = memstore.New()
	}

	engine, err := reson.New(reson.Options{
		Store: st,
		Rules: components.Rules,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	for _, atom := range components.Facts {
		fact, err := store.FromAtom(atom)
		if err != nil {
			log.Fatalf("fact %s: %v", atom, err)
		}
		if _, _, err := st.Assert(ctx, fact); err != nil {
			log.Fatalf("assert %s: %v", atom, err)
		}
	}

	if *queryF != "" {
		if err := run(ctx, engine, *queryF, *explain); err != nil {
			log.Fatalf("query: %v", err)
		}
		return
	}

	// No --query: read queries from stdin, one per line.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := run(ctx, engine, line, *explain); err != nil {
			log.Printf("query %q: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stdin: %v", err)
	}
}

func run(ctx context.Context, engine *reson.Engine, pattern string, explain bool) error {
	answers, err := engine.Query(ctx, pattern)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		fmt.Println("no answers")
		return nil
	}
	for _, ans := range answers {
		fmt.Println(formatAnswer(ans))
		if explain && ans.Explanation != nil {
			e := ans.Explanation
			switch e.Kind {
			case term.ExplRule:
				fmt.Printf("  via rule %s: %s\n", e.RuleID, e.Pattern)
			default:
				fmt.Printf("  via lookup: %s\n", e.Pattern)
			}
		}
	}
	return nil
}

func formatAnswer(ans reson.Answer) string {
	if len(ans.Bindings) == 0 {
		return "true"
	}
	vars := make([]string, 0, len(ans.Bindings))
	for v := range ans.Bindings {
		vars = append(vars, string(v))
	}
	sort.Strings(vars)
	parts := make([]string, len(vars))
	for i, v := range vars {
		parts[i] = v + " = " + ans.Bindings[term.Var(v)].Label
	}
	return strings.Join(parts, ", ")
}
