// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Command wikidb-build runs the three-stage ingestion pipeline (spec.md
// §4.4, §5): it reads the MediaWiki page/redirect SQL dumps and the
// Wikidata JSON entity dump and writes a ready-to-serve dictionary and
// KV store under -data-dir.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/wikidb-go/wikidb/codec"
	"github.com/wikidb-go/wikidb/config"
	"github.com/wikidb-go/wikidb/ingest"
	"github.com/wikidb-go/wikidb/kv"
	"github.com/wikidb-go/wikidb/store"
)

var logger *log.Logger

// main dispatches to one of three subcommands: the default "build"
// (Stage A/B/C ingestion), "inspect" (spec.md §12 "head(table, n)"
// debug helper) and "export-labels" (a brotli-compressed diagnostic
// dump of every entity's display label).
func main() {
	logger = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)

	args := os.Args[1:]
	sub := "build"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "build":
		runBuild(args)
	case "inspect":
		runInspect(args)
	case "export-labels":
		runExportLabels(args)
	default:
		logger.Fatalf("wikidb-build: unknown subcommand %q (want build, inspect, export-labels)", sub)
	}
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory to write wikidb.dict/wikidb.kv into (required)")
	pageSQL := fs.String("page-sql", "", "path to the page.sql(.gz) dump (required)")
	redirectSQL := fs.String("redirect-sql", "", "path to the redirect.sql(.gz) dump (required)")
	entityDump := fs.String("entity-dump", "", "path to the Wikidata JSON entity dump, bzip2-compressed (required)")
	workerCount := fs.Int("workers", 6, "Stage B worker count")
	backupS3 := fs.Bool("backup-s3", false, "upload the built dictionary and KV file to S3-compatible storage after a successful build")
	storageKey := fs.String("storage-key", "", "path to a JSON file with {Endpoint,Key,Secret}; defaults to S3_ENDPOINT/S3_KEY/S3_SECRET env vars")
	fs.Parse(args)

	if *dataDir == "" || *pageSQL == "" || *redirectSQL == "" || *entityDump == "" {
		logger.Fatal("wikidb-build: -data-dir, -page-sql, -redirect-sql and -entity-dump are all required")
	}

	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.PageSQLPath = *pageSQL
	cfg.RedirectSQLPath = *redirectSQL
	cfg.JSONDumpPath = *entityDump
	cfg.WorkerCount = *workerCount
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatal(err)
	}

	if err := build(context.Background(), cfg); err != nil {
		logger.Fatalf("wikidb-build: %v", err)
	}
	logger.Printf("wikidb-build: done")

	if *backupS3 {
		storage, err := NewStorageClient(*storageKey)
		if err != nil {
			logger.Fatalf("wikidb-build: storage client: %v", err)
		}
		if err := backup(context.Background(), cfg, storage); err != nil {
			logger.Fatalf("wikidb-build: backup: %v", err)
		}
	}
}

// runInspect prints the first n decoded records of a table, via
// kv.Engine.Head, for manually sanity-checking a build's output.
func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory holding wikidb.dict/wikidb.kv (required)")
	table := fs.String("table", "", "table name to inspect, e.g. label (required)")
	n := fs.Int("n", 10, "number of records to print")
	fs.Parse(args)

	if *dataDir == "" || *table == "" {
		logger.Fatal("wikidb-build inspect: -data-dir and -table are required")
	}

	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.ReadOnly = true
	engine, err := kv.Open(kv.Options{
		Path:         cfg.KVFilePath(),
		MaxTables:    cfg.MaxTables,
		MapSizeBytes: cfg.MapSizeBytes,
		Tables:       store.AllTables,
		ReadOnly:     true,
	})
	if err != nil {
		logger.Fatal(err)
	}
	defer engine.Close()

	count, err := engine.Count(*table)
	if err != nil {
		logger.Fatal(err)
	}
	fmt.Printf("%s: %d entries total\n", *table, count)

	records, err := engine.Head(*table, *n)
	if err != nil {
		logger.Fatal(err)
	}
	for _, r := range records {
		var keyDesc string
		if len(r.Key) == 4 {
			keyDesc = fmt.Sprintf("%d", codec.DecodeLocalID32(r.Key))
		} else {
			keyDesc = string(r.Key)
		}
		fmt.Printf("%s => %d bytes\n", keyDesc, len(r.Value))
	}
}

// runExportLabels writes every entity's display label as
// "{LocalID}\t{label}\n", brotli-compressed (spec.md §11 domain stack).
func runExportLabels(args []string) {
	fs := flag.NewFlagSet("export-labels", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "directory holding wikidb.dict/wikidb.kv (required)")
	out := fs.String("out", "labels.txt.br", "output file path")
	fs.Parse(args)

	if *dataDir == "" {
		logger.Fatal("wikidb-build export-labels: -data-dir is required")
	}

	cfg := config.Default()
	cfg.DataDir = *dataDir
	cfg.ReadOnly = true
	engine, err := kv.Open(kv.Options{
		Path:         cfg.KVFilePath(),
		MaxTables:    cfg.MaxTables,
		MapSizeBytes: cfg.MapSizeBytes,
		Tables:       store.AllTables,
		ReadOnly:     true,
	})
	if err != nil {
		logger.Fatal(err)
	}
	defer engine.Close()

	f, err := os.Create(*out)
	if err != nil {
		logger.Fatal(err)
	}
	defer f.Close()

	bw := brotli.NewWriterLevel(f, 6)
	w := bufio.NewWriter(bw)

	n := 0
	err = engine.Range(store.TableLabel, nil, nil, func(pair kv.KV) error {
		local := codec.DecodeLocalID32(pair.Key)
		if _, err := fmt.Fprintf(w, "%d\t%s\n", local, pair.Value); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		logger.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		logger.Fatal(err)
	}
	if err := bw.Close(); err != nil {
		logger.Fatal(err)
	}
	logger.Printf("export-labels: wrote %d labels to %s", n, *out)
}

// build drives Stage A (page/redirect dictionary), Stage B (entity
// columns) and Stage C (inverted statement index) in sequence, writing
// every column family into a single freshly created KV file.
func build(ctx context.Context, cfg *config.Config) error {
	logger.Printf("stage A: building dictionary from %s", cfg.PageSQLPath)
	d, pageToEntity, err := ingest.BuildDictionary(cfg.PageSQLPath)
	if err != nil {
		return fmt.Errorf("stage A: %w", err)
	}
	defer d.Close()
	logger.Printf("stage A: dictionary has %d entities", d.Len())

	redirects, err := ingest.BuildRedirects(cfg.RedirectSQLPath, d, pageToEntity)
	if err != nil {
		return fmt.Errorf("stage A: redirects: %w", err)
	}
	logger.Printf("stage A: resolved %d redirects", len(redirects))

	if err := d.Save(cfg.DictPath()); err != nil {
		return fmt.Errorf("stage A: saving dictionary: %w", err)
	}

	stats := ingest.NewStats()
	engine, err := kv.Open(kv.Options{
		Path:         cfg.KVFilePath(),
		MaxTables:    cfg.MaxTables,
		MapSizeBytes: cfg.MapSizeBytes,
		Tables:       store.AllTables,
		Logger:       logger,
		OnMapGrow:    stats.MapGrows.Inc,
	})
	if err != nil {
		return fmt.Errorf("opening kv engine: %w", err)
	}
	defer engine.Close()

	if err := writeRedirects(engine, redirects, cfg.WriteBufferBytes); err != nil {
		return fmt.Errorf("stage A: writing redirects: %w", err)
	}

	invHeads, err := readEntities(ctx, cfg, d, engine, stats)
	if err != nil {
		return fmt.Errorf("stage B: %w", err)
	}
	logger.Printf("stage B: wrote claims for %d entities", len(invHeads))
	stats.Log(logger)

	logger.Printf("stage C: building inverted statement index")
	pairs, err := ingest.BuildInvertedIndex(func(yield func(head uint32, byProp map[uint32][]uint32) bool) {
		for head, byProp := range invHeads {
			if !yield(head, byProp) {
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("stage C: %w", err)
	}
	if _, err := engine.WriteBulk(store.TableClaimEntInv, pairs, true); err != nil {
		return fmt.Errorf("stage C: writing postings: %w", err)
	}
	logger.Printf("stage C: wrote %d postings", len(pairs))

	return nil
}

// writeRedirects writes both the forward redirect table and the
// aggregated reverse redirect_of table. redirect_of is packed u32[]
// (spec.md §3: INT_NUMPY), not a bitmap — it mirrors
// `build_trie_and_redirects`'s `bytes_value=cf.ToBytesType.INT_NUMPY`.
// The reverse direction is set-valued (several `from`s can redirect to
// the same `to`): the froms are grouped per target in an in-memory map,
// then merged into any stored value through UpdateBulkBuffered's
// MergeSet policy (spec.md §4.4 step 3), keeping a re-run over an
// already-populated table idempotent.
func writeRedirects(engine *kv.Engine, redirects []ingest.Redirect, writeBufferBytes int64) error {
	if len(redirects) == 0 {
		return nil
	}
	forward := make([]kv.KV, 0, len(redirects))
	reverse := make(map[uint32][]uint32, len(redirects))
	for _, r := range redirects {
		forward = append(forward, kv.KV{Key: codec.EncodeLocalID32(r.From), Value: codec.EncodeLocalID32(r.To)})
		reverse[r.To] = append(reverse[r.To], r.From)
	}
	if _, err := engine.WriteBulk(store.TableRedirect, forward, true); err != nil {
		return err
	}

	updates := make([]kv.Update, 0, len(reverse))
	for to, froms := range reverse {
		updates = append(updates, kv.Update{
			Key:      codec.EncodeLocalID32(to),
			Decode:   codec.DecodeIntNumpy,
			Encode:   func(merged []uint32) ([]byte, error) { return codec.EncodeIntNumpy(merged), nil },
			Incoming: froms,
		})
	}
	_, _, _, err := engine.UpdateBulkBuffered(store.TableRedirectOf, updates, kv.MergeSet, kv.Budget(writeBufferBytes))
	return err
}

// readEntities drains Stage B's entity channel and streams every column
// family through WriteBulkBuffered, flushing each table whenever its
// buffered bytes exceed cfg.WriteBufferBytes (spec.md §4.4 step 7:
// "When the total buffered bytes exceeds the configured budget ...
// flush with write_bulk"), so the column-family write buffers stay
// bounded regardless of dump size. It also collects each head entity's
// wikibase-entityid claims in memory for Stage C's inverted index; that
// map grows with the number of entities that have claims.
func readEntities(ctx context.Context, cfg *config.Config, d ingest.Resolver, engine *kv.Engine, stats *ingest.Stats) (map[uint32]map[uint32][]uint32, error) {
	f, err := os.Open(cfg.JSONDumpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	out := make(chan *ingest.Entity, 1024)
	budget := kv.Budget(cfg.WriteBufferBytes)
	const chanBuf = 256
	chLabel := make(chan kv.KV, chanBuf)
	chLabels := make(chan kv.KV, chanBuf)
	chDescriptions := make(chan kv.KV, chanBuf)
	chAliases := make(chan kv.KV, chanBuf)
	chSitelinks := make(chan kv.KV, chanBuf)
	chClaims := make(chan kv.KV, chanBuf)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ingest.ReadEntities(ctx, cfg.JSONDumpPath, f, info.Size(), cfg.WorkerCount, cfg.StructuralClassIDs, d, out, stats)
	})
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableLabel, chLabel, budget); return err })
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableLabels, chLabels, budget); return err })
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableDescriptions, chDescriptions, budget); return err })
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableAliases, chAliases, budget); return err })
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableSitelinks, chSitelinks, budget); return err })
	g.Go(func() error { _, err := engine.WriteBulkBuffered(store.TableClaims, chClaims, budget); return err })

	invHeads := make(map[uint32]map[uint32][]uint32)
	g.Go(func() error {
		defer close(chLabel)
		defer close(chLabels)
		defer close(chDescriptions)
		defer close(chAliases)
		defer close(chSitelinks)
		defer close(chClaims)

		for entity := range out {
			key := codec.EncodeLocalID32(entity.Local)
			select {
			case chLabel <- kv.KV{Key: key, Value: []byte(entity.Label)}:
			case <-ctx.Done():
				return ctx.Err()
			}

			if len(entity.Labels) > 0 {
				data, err := codec.EncodeOBJ(entity.Labels, true)
				if err != nil {
					return err
				}
				select {
				case chLabels <- kv.KV{Key: key, Value: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(entity.Descriptions) > 0 {
				data, err := codec.EncodeOBJ(entity.Descriptions, true)
				if err != nil {
					return err
				}
				select {
				case chDescriptions <- kv.KV{Key: key, Value: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(entity.Aliases) > 0 {
				data, err := codec.EncodeOBJ(entity.Aliases, true)
				if err != nil {
					return err
				}
				select {
				case chAliases <- kv.KV{Key: key, Value: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(entity.Sitelinks) > 0 {
				data, err := codec.EncodeOBJ(entity.Sitelinks, true)
				if err != nil {
					return err
				}
				select {
				case chSitelinks <- kv.KV{Key: key, Value: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if len(entity.Claims) > 0 {
				data, err := ingest.EncodeClaims(d, entity.Claims)
				if err != nil {
					return err
				}
				select {
				case chClaims <- kv.KV{Key: key, Value: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
				invHeads[entity.Local] = entityIDClaims(d, entity.Claims)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return invHeads, nil
}

// entityIDClaims resolves an entity's wikibase-entityid claims into
// {prop_local -> [tail_local, ...]}, unresolvable property or tail
// strings are skipped, ready for ingest.BuildInvertedIndex.
func entityIDClaims(d ingest.Resolver, claims ingest.ClaimMap) map[uint32][]uint32 {
	byProp, ok := claims["wikibase-entityid"]
	if !ok {
		return nil
	}
	out := make(map[uint32][]uint32, len(byProp))
	for prop, statements := range byProp {
		propLocal, ok := d.LocalOf(prop)
		if !ok {
			continue
		}
		for _, st := range statements {
			tail, ok := st.Value.(string)
			if !ok {
				continue
			}
			tailLocal, ok := d.LocalOf(tail)
			if !ok {
				continue
			}
			out[propLocal] = append(out[propLocal], tailLocal)
		}
	}
	return out
}

// NewStorageClient sets up a client for accessing S3-compatible object
// storage, used only for the optional post-build backup.
func NewStorageClient(keypath string) (*minio.Client, error) {
	var cfg struct{ Endpoint, Key, Secret string }

	if keypath == "" {
		cfg.Endpoint = os.Getenv("S3_ENDPOINT")
		cfg.Key = os.Getenv("S3_KEY")
		cfg.Secret = os.Getenv("S3_SECRET")
	} else {
		data, err := os.ReadFile(keypath)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Key, cfg.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}
	client.SetAppInfo("wikidb-build", "0.1")
	return client, nil
}

// backup uploads the just-built dictionary and KV file into the
// "wikidb" bucket, skipping any object that is already present.
func backup(ctx context.Context, cfg *config.Config, storage *minio.Client) error {
	const bucket = "wikidb"
	exists, err := storage.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("wikidb-build: storage bucket %q does not exist", bucket)
	}

	date := time.Now().UTC().Format("20060102")
	files := map[string]string{
		fmt.Sprintf("snapshots/%s/wikidb.dict", date): cfg.DictPath(),
		fmt.Sprintf("snapshots/%s/wikidb.kv", date):   cfg.KVFilePath(),
	}
	for dest, src := range files {
		if err := uploadFile(ctx, storage, bucket, dest, src); err != nil {
			return err
		}
	}
	return nil
}

func uploadFile(ctx context.Context, storage *minio.Client, bucket, dest, src string) error {
	if _, err := storage.StatObject(ctx, bucket, dest, minio.StatObjectOptions{}); err == nil {
		logger.Printf("already in object storage: %s/%s", bucket, dest)
		return nil
	}
	if _, err := storage.FPutObject(ctx, bucket, dest, src, minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
		return err
	}
	logger.Printf("uploaded to object storage: %s/%s", bucket, dest)
	return nil
}
