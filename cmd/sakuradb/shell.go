package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sakuradb/sakura/config"
	"github.com/sakuradb/sakura/core/common"
	"github.com/sakuradb/sakura/core/engine"
	"github.com/sakuradb/sakura/core/indexing/btree"
	"github.com/sakuradb/sakura/core/storage/pager"
	"github.com/sakuradb/sakura/core/transaction"
	"github.com/sakuradb/sakura/internal/server"
	"github.com/sakuradb/sakura/pkg/logger"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run an interactive session against a local data directory",
	RunE:  shellRun,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func shellRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	sessionID := uuid.NewString()
	log.Info("shell session started", zap.String("session", sessionID))

	rl, err := readline.New("sakura> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	sh := &shell{srv: srv}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := sh.dispatch(line); err != nil {
			fmt.Println("error:", err)
		}
	}

	if sh.txn != nil {
		if err := srv.TxnMgr.Abort(sh.txn); err != nil {
			log.Warn("abort on exit failed", zap.Error(err))
		}
	}
	log.Info("shell session ended", zap.String("session", sessionID))
	return nil
}

// shell holds the per-session state: the server and the transaction an
// explicit BEGIN left open, if any.
type shell struct {
	srv *server.Server
	txn *transaction.Transaction
}

// run executes fn inside the session transaction when one is open, and
// otherwise inside a fresh transaction committed on success and aborted
// on failure.
func (sh *shell) run(fn func(ctx *transaction.Context) error) error {
	if sh.txn != nil {
		return fn(sh.srv.TxnMgr.Context(sh.txn))
	}
	txn, err := sh.srv.TxnMgr.Begin()
	if err != nil {
		return err
	}
	if err := fn(sh.srv.TxnMgr.Context(txn)); err != nil {
		if abortErr := sh.srv.TxnMgr.Abort(txn); abortErr != nil {
			return abortErr
		}
		return err
	}
	return sh.srv.TxnMgr.Commit(txn)
}

func (sh *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "help":
		printHelp()
		return nil
	case "begin":
		return sh.begin()
	case "commit":
		return sh.commit()
	case "abort":
		return sh.abort()
	case "create":
		if len(fields) >= 2 && fields[1] == "table" {
			return sh.createTable(fields[2:])
		}
		if len(fields) >= 2 && fields[1] == "index" {
			return sh.createIndex(fields[2:])
		}
		return fmt.Errorf("usage: create table|index ...")
	case "open":
		if len(fields) >= 2 && fields[1] == "table" {
			return sh.openTable(fields[2:])
		}
		return fmt.Errorf("usage: open table <name>")
	case "drop":
		if len(fields) == 3 && fields[1] == "table" {
			return sh.srv.Engine.DropTable(fields[2])
		}
		return fmt.Errorf("usage: drop table <name>")
	case "stats":
		return sh.stats()
	case "flush":
		return sh.srv.Pool.FlushDirtyPages()
	case "range":
		return sh.rangeScan(fields[1:])
	case "insert":
		return sh.insert(fields[1:])
	case "get":
		return sh.get(fields[1:])
	case "update":
		return sh.update(fields[1:])
	case "delete":
		return sh.delete(fields[1:])
	case "scan":
		return sh.scan(fields[1:])
	case "lookup":
		return sh.lookup(fields[1:])
	}
	return fmt.Errorf("unknown command %q, try help", fields[0])
}

func (sh *shell) begin() error {
	if sh.txn != nil {
		return fmt.Errorf("transaction %d already open", sh.txn.ID())
	}
	txn, err := sh.srv.TxnMgr.Begin()
	if err != nil {
		return err
	}
	sh.txn = txn
	fmt.Printf("begin txn %d\n", txn.ID())
	return nil
}

func (sh *shell) commit() error {
	if sh.txn == nil {
		return fmt.Errorf("no open transaction")
	}
	err := sh.srv.TxnMgr.Commit(sh.txn)
	fmt.Printf("commit txn %d\n", sh.txn.ID())
	sh.txn = nil
	return err
}

func (sh *shell) abort() error {
	if sh.txn == nil {
		return fmt.Errorf("no open transaction")
	}
	err := sh.srv.TxnMgr.Abort(sh.txn)
	fmt.Printf("abort txn %d\n", sh.txn.ID())
	sh.txn = nil
	return err
}

func (sh *shell) createTable(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: create table <name> <record-size>")
	}
	size, err := strconv.Atoi(args[1])
	if err != nil || size <= 0 {
		return fmt.Errorf("bad record size %q", args[1])
	}
	t, err := sh.srv.Engine.CreateTable(args[0], sh.srv.TablePath(args[0]), size)
	if err != nil {
		return err
	}
	fmt.Printf("table %s created, record size %d\n", t.Name, t.File.RecordSize())
	return nil
}

func (sh *shell) openTable(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open table <name>")
	}
	t, err := sh.srv.Engine.OpenTable(args[0], sh.srv.TablePath(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("table %s open, record size %d\n", t.Name, t.File.RecordSize())
	return nil
}

// createIndex builds a single INT-column index keyed at a byte offset
// inside the record.
func (sh *shell) createIndex(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: create index <table> <name> <offset>")
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not open", args[0])
	}
	offset, err := strconv.Atoi(args[2])
	if err != nil || offset < 0 || int32(offset)+4 > t.File.RecordSize() {
		return fmt.Errorf("bad offset %q", args[2])
	}
	_, err = sh.srv.Engine.CreateIndexOn(t, args[1], sh.srv.IndexPath(args[0], args[1]),
		[]btree.IndexColumn{btree.IntColumn()}, []int32{int32(offset)}, 0)
	if err != nil {
		return err
	}
	fmt.Printf("index %s created on %s at offset %d\n", args[1], args[0], offset)
	return nil
}

func (sh *shell) insert(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: insert <table> <hex-payload>")
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not open", args[0])
	}
	data, err := decodeRecord(args[1], t.File.RecordSize())
	if err != nil {
		return err
	}
	return sh.run(func(ctx *transaction.Context) error {
		rid, err := t.InsertRecord(ctx, data)
		if err != nil {
			return err
		}
		fmt.Printf("inserted at (%d,%d)\n", rid.PageNo, rid.SlotNo)
		return nil
	})
}

func (sh *shell) get(args []string) error {
	t, rid, err := sh.tableRid(args, 3, "get <table> <page> <slot>")
	if err != nil {
		return err
	}
	return sh.run(func(ctx *transaction.Context) error {
		data, err := t.GetRecord(ctx, rid)
		if err != nil {
			return err
		}
		fmt.Printf("(%d,%d) %x\n", rid.PageNo, rid.SlotNo, data)
		return nil
	})
}

func (sh *shell) update(args []string) error {
	t, rid, err := sh.tableRid(args, 4, "update <table> <page> <slot> <hex-payload>")
	if err != nil {
		return err
	}
	data, err := decodeRecord(args[3], t.File.RecordSize())
	if err != nil {
		return err
	}
	return sh.run(func(ctx *transaction.Context) error {
		return t.UpdateRecord(ctx, rid, data)
	})
}

func (sh *shell) delete(args []string) error {
	t, rid, err := sh.tableRid(args, 3, "delete <table> <page> <slot>")
	if err != nil {
		return err
	}
	return sh.run(func(ctx *transaction.Context) error {
		return t.DeleteRecord(ctx, rid)
	})
}

func (sh *shell) scan(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scan <table>")
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not open", args[0])
	}
	return sh.run(func(ctx *transaction.Context) error {
		scan, err := t.Scan(ctx)
		if err != nil {
			return err
		}
		n := 0
		for !scan.IsEnd() {
			data, err := scan.Get(ctx)
			if err != nil {
				return err
			}
			rid := scan.Rid()
			fmt.Printf("(%d,%d) %x\n", rid.PageNo, rid.SlotNo, data)
			n++
			if err := scan.Next(); err != nil {
				return err
			}
		}
		fmt.Printf("%d records\n", n)
		return nil
	})
}

func (sh *shell) lookup(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: lookup <table> <index> <int-key>")
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not open", args[0])
	}
	ti := t.IndexByName(args[1])
	if ti == nil {
		return fmt.Errorf("no index %s on table %s", args[1], args[0])
	}
	key, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("bad key %q", args[2])
	}
	rid, ok, err := ti.Index.GetValue(btree.IntKey(int32(key)))
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("not found")
		return nil
	}
	return sh.get([]string{args[0], strconv.Itoa(int(rid.PageNo)), strconv.Itoa(int(rid.SlotNo))})
}

func (sh *shell) tableRid(args []string, want int, usage string) (*engine.Table, common.Rid, error) {
	if len(args) < want {
		return nil, common.Rid{}, fmt.Errorf("usage: %s", usage)
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return nil, common.Rid{}, fmt.Errorf("table %s not open", args[0])
	}
	page, err1 := strconv.Atoi(args[1])
	slot, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		return nil, common.Rid{}, fmt.Errorf("bad record id (%s,%s)", args[1], args[2])
	}
	return t, common.Rid{PageNo: pager.PageNo(page), SlotNo: int32(slot)}, nil
}

func (sh *shell) stats() error {
	for _, name := range sh.srv.Engine.Tables() {
		t, ok := sh.srv.Engine.Table(name)
		if !ok {
			continue
		}
		fmt.Printf("table %s: record size %d, %d pages, %d indexes\n",
			name, t.File.RecordSize(), t.File.NumPages(), len(t.Indexes))
	}
	fmt.Printf("buffer pool: %d pinned frames\n", sh.srv.Pool.PinnedFrames())
	return nil
}

// rangeScan walks the index between two INT keys, both inclusive.
func (sh *shell) rangeScan(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: range <table> <index> <lo> <hi>")
	}
	t, ok := sh.srv.Engine.Table(args[0])
	if !ok {
		return fmt.Errorf("table %s not open", args[0])
	}
	ti := t.IndexByName(args[1])
	if ti == nil {
		return fmt.Errorf("no index %s on table %s", args[1], args[0])
	}
	lo, err1 := strconv.ParseInt(args[2], 10, 32)
	hi, err2 := strconv.ParseInt(args[3], 10, 32)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("bad range [%s,%s]", args[2], args[3])
	}
	lower, err := ti.Index.LowerBound(btree.IntKey(int32(lo)))
	if err != nil {
		return err
	}
	upper, err := ti.Index.UpperBound(btree.IntKey(int32(hi)))
	if err != nil {
		return err
	}
	scan := btree.NewIndexScan(ti.Index, lower, upper)
	n := 0
	for !scan.IsEnd() {
		key, err := scan.Key()
		if err != nil {
			return err
		}
		rid, err := scan.Rid()
		if err != nil {
			return err
		}
		fmt.Printf("%x -> (%d,%d)\n", key, rid.PageNo, rid.SlotNo)
		n++
		if err := scan.Next(); err != nil {
			return err
		}
	}
	fmt.Printf("%d entries\n", n)
	return nil
}

// decodeRecord parses a hex payload and zero-pads it to the table's fixed
// record size.
func decodeRecord(value string, size int32) ([]byte, error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("payload must be hex: %v", err)
	}
	if int32(len(raw)) > size {
		return nil, fmt.Errorf("payload longer than record size %d", size)
	}
	data := make([]byte, size)
	copy(data, raw)
	return data, nil
}

func printHelp() {
	fmt.Print(`commands:
  create table <name> <record-size>
  open table <name>
  drop table <name>
  create index <table> <name> <offset>
  insert <table> <hex-payload>
  get <table> <page> <slot>
  update <table> <page> <slot> <hex-payload>
  delete <table> <page> <slot>
  scan <table>
  lookup <table> <index> <int-key>
  range <table> <index> <lo> <hi>
  begin | commit | abort
  stats | flush
  help | exit
`)
}
