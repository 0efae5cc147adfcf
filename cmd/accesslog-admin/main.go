package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ngoyal88/accesslog/pkg/cache"
	"github.com/ngoyal88/accesslog/pkg/config"
	"github.com/ngoyal88/accesslog/pkg/keymanager"
	"github.com/ngoyal88/accesslog/pkg/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "init":
		adminKey, err := generateAdminKey()
		if err != nil {
			log.Fatalf("failed to generate admin key: %v", err)
		}
		if err := writeAdminKey(".env", adminKey); err != nil {
			log.Fatalf("failed to write .env: %v", err)
		}
		fmt.Printf("AdminKey: %s\nSaved to .env (ACCESSLOG_AUTH_ADMIN_KEY).\n", adminKey)
	case "create-key":
		handleCreateKey(os.Args[2:])
	case "list-keys":
		handleListKeys(os.Args[2:])
	case "tail":
		handleTail(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("accesslog-admin commands:")
	fmt.Println("  init                 Generate admin key and store in .env")
	fmt.Println("  create-key           Create a new API key")
	fmt.Println("     flags: -config -name -user -desc -quota -expires-days")
	fmt.Println("  list-keys            List all active keys")
	fmt.Println("     flags: -config")
	fmt.Println("  tail                 Print archived access lines, oldest of the page first")
	fmt.Println("     flags: -config -n -contains -since")
}

func mustRedis(path string) *cache.Client {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.Redis.Enabled {
		log.Fatal("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	return rdb
}

func generateAdminKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "admin_" + base64.RawURLEncoding.EncodeToString(b), nil
}

const adminKeyVar = "ACCESSLOG_AUTH_ADMIN_KEY"

// writeAdminKey sets the admin key variable in envFile, keeping other lines.
func writeAdminKey(envFile, adminKey string) error {
	entry := fmt.Sprintf("%s=%s", adminKeyVar, adminKey)

	data, err := os.ReadFile(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.WriteFile(envFile, []byte(entry+"\n"), 0o600)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, adminKeyVar+"=") {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	return os.WriteFile(envFile, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

func handleCreateKey(args []string) {
	fs := flag.NewFlagSet("create-key", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file")
	name := fs.String("name", "root", "Key name")
	user := fs.String("user", "root", "User ID")
	desc := fs.String("desc", "bootstrap key", "Description")
	quota := fs.Int64("quota", 0, "Quota (0 = unlimited)")
	expiresDays := fs.Int("expires-days", 0, "Expires in N days (0 = never)")

	if err := fs.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	rdb := mustRedis(*configPath)
	defer rdb.Close()
	km := keymanager.New(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := km.CreateKey(ctx, keymanager.KeySpec{
		Name:        *name,
		UserID:      *user,
		Description: *desc,
		Quota:       *quota,
		ExpiresIn:   time.Duration(*expiresDays) * 24 * time.Hour,
	})
	if err != nil {
		log.Fatalf("failed to create key: %v", err)
	}

	b, _ := json.MarshalIndent(key, "", "  ")
	fmt.Println(string(b))
}

func handleListKeys(args []string) {
	fs := flag.NewFlagSet("list-keys", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	rdb := mustRedis(*configPath)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := keymanager.New(rdb).ListActiveKeys(ctx)
	if err != nil {
		log.Fatalf("scan error: %v", err)
	}

	if len(keys) == 0 {
		fmt.Println("No active keys found")
		return
	}
	for i, k := range keys {
		fmt.Printf("%d) %s user=%s created=%s used=%d quota=%d expires=%s\n",
			i+1, k.Key, k.UserID, k.CreatedAt.Format(time.RFC3339), k.Used, k.Quota, formatExpiry(k.ExpiresAt))
	}
}

func handleTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file")
	n := fs.Int("n", 20, "Number of lines")
	contains := fs.String("contains", "", "Only lines containing this text")
	since := fs.Duration("since", 0, "Only lines newer than this (0 = all)")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	rdb := mustRedis(*configPath)
	defer rdb.Close()

	filters := storage.Filters{Contains: *contains, Limit: *n}
	if *since > 0 {
		filters.From = time.Now().Add(-*since)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// retention does not matter for reads
	records, err := storage.NewRedisStore(rdb, 0).ListRecords(ctx, filters)
	if err != nil {
		log.Fatalf("failed to read archive: %v", err)
	}
	for i := len(records) - 1; i >= 0; i-- {
		fmt.Println(records[i].Line)
	}
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
