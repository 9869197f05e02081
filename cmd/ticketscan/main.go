package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ticketscan/internal"
	"ticketscan/internal/config"
	"ticketscan/internal/connectors"
	"ticketscan/internal/listener"
	"ticketscan/internal/logging"
	"ticketscan/internal/ocr"
	"ticketscan/internal/pipeline"
	"ticketscan/internal/server"
	"ticketscan/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	must(err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	engine := ocr.NewEngine(ocr.ConfigFrom(cfg), logger)
	engine.CheckPreprocess()

	cmd := os.Args[1]
	switch cmd {
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := connectors.NewConnector(ctx, *provider, cfg, logger)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn, logger)
		result, err := fetch.FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		processor := pipeline.NewProcessingService(db, cfg, engine, logger)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed email id=%d skipped=%t tickets=%d entries=%d\n", res.EmailID, res.Skipped, res.Tickets, res.Entries)
			return
		}
		processedEmails, entries, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending emails=%d entries=%d\n", processedEmails, entries)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		emailID := fs.Int("emailId", 0, "internal email id")
		ticketID := fs.Int("ticketId", 0, "ticket id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if (*emailID == 0) == (*ticketID == 0) || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out and exactly one of --emailId or --ticketId are required"))
		}
		var rows []internal.EntryExportRow
		if *emailID != 0 {
			rows, err = db.GetExportRowsByEmail(*emailID)
		} else {
			rows, err = db.GetExportRowsByTicket(*ticketID)
		}
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no entries to export"))
		}
		must(pipeline.ExportRowsToXLSX(rows, *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	case "entries:complete":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.Int("id", 0, "entry id")
		undo := fs.Bool("undo", false, "mark the entry not completed")
		_ = fs.Parse(os.Args[2:])
		if *id == 0 {
			must(fmt.Errorf("--id is required"))
		}
		must(db.SetEntryCompleted(*id, !*undo))
		fmt.Printf("entry %d completed=%t\n", *id, !*undo)
	case "mail:listen":
		s := listener.NewService(db, cfg, engine, logger)
		must(s.Run(ctx))
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTPAddr, "listen address")
		_ = fs.Parse(os.Args[2:])
		processor := pipeline.NewProcessingService(db, cfg, engine, logger)
		opts := server.Options{MaxUploadBytes: cfg.UploadMaxBytes, Store: db}
		if cfg.StoreUploads {
			opts.Recorder = processor
		}
		srv := server.New(engine, processor.Scanner(), opts, logger)
		must(srv.ListenAndServe(ctx, *addr))
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input file path")
		inType := fs.String("type", "", "text|html|image|pdf")
		output := fs.String("output", "", "output xlsx path (prints JSON when empty)")
		store := fs.Bool("store", false, "save the scan as a ticket")
		_ = fs.Parse(os.Args[2:])
		if *input == "" || *inType == "" {
			must(fmt.Errorf("--input and --type are required"))
		}

		doc, err := pipeline.LoadInput(*inType, *input)
		must(err)
		raw, err := pipeline.ResolveText(ctx, engine, doc)
		must(err)

		processor := pipeline.NewProcessingService(db, cfg, engine, logger)
		result := processor.Scanner().Extract(raw)

		ticketID := 0
		if *store {
			ticketID, err = processor.RecordScan(nil, doc, result)
			must(err)
		}

		if *output == "" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			must(enc.Encode(map[string]any{"entries": result.Entries, "raw_text": result.RawText}))
			return
		}

		var rows []internal.EntryExportRow
		if ticketID != 0 {
			rows, err = db.GetExportRowsByTicket(ticketID)
			must(err)
		} else {
			rows = make([]internal.EntryExportRow, 0, len(result.Entries))
			for i, e := range result.Entries {
				rows = append(rows, internal.EntryExportRow{
					Source:       string(doc.Source),
					DocumentName: filepath.Base(*input),
					Seq:          i + 1,
					Customer:     e.Customer,
					Address:      e.Address,
					Product:      e.Product,
					Quantity:     e.Quantity,
					Completed:    string(e.Completed),
				})
			}
		}
		must(pipeline.ExportRowsToXLSX(rows, *output))
		fmt.Printf("run done entries=%d output=%s\n", len(rows), *output)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: ticketscan <command>")
	fmt.Println("commands:")
	fmt.Println("  serve [--addr=:8000]")
	fmt.Println("  run --input=... --type=text|html|image|pdf [--output=...xlsx] [--store]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  export:xlsx (--emailId=1 | --ticketId=1) --out=./out/result.xlsx")
	fmt.Println("  entries:complete --id=1 [--undo]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
