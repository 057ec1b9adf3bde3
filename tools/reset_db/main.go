package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"

	"msg-gateway/config"
	dbPkg "msg-gateway/pkg/db"
	redisPkg "msg-gateway/pkg/redis"

	_ "github.com/go-sql-driver/mysql"
)

const messageTable = "message"

func main() {
	configFile := flag.String("config", "", "config file path (default: CONFIG_FILE or config/config.yaml)")
	yes := flag.Bool("yes", false, "skip confirmation")
	withStats := flag.Bool("stats", false, "also clear redis message statistics")
	flag.Parse()

	var cfg *config.Config
	if *configFile != "" {
		cfg = config.LoadConfigFrom(*configFile)
	} else {
		cfg = config.LoadConfig()
	}

	fmt.Printf("Driver: %s  Database: %s@%s:%d\n", cfg.Database.Driver, cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)

	if !*yes {
		fmt.Printf("\nWARNING: This operation will CLEAR ALL DATA in table [%s]!\n", messageTable)
		fmt.Print("Type 'YES' to confirm: ")
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != "YES" {
			fmt.Println("Operation cancelled")
			return
		}
	}

	switch cfg.Database.Driver {
	case "", "mysql":
		resetMySQL(cfg.Database)
	case "postgres", "postgresql":
		resetPostgres(cfg.Database)
	default:
		log.Fatalf("Unsupported driver: %s", cfg.Database.Driver)
	}

	if *withStats {
		resetStats(cfg.Redis)
	}

	fmt.Println("\nDatabase reset completed!")
	fmt.Println("Table data cleared, table structure preserved")
}

func resetMySQL(cfg config.DatabaseConfig) {
	db, err := sql.Open("mysql", dbPkg.MySQLDSN(cfg))
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Database connection test failed: %v", err)
	}
	fmt.Println("Database connected successfully")

	fmt.Printf("Clearing table %s... ", messageTable)
	if _, err := db.Exec(fmt.Sprintf("DELETE FROM %s", messageTable)); err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Println("Success")

	fmt.Printf("Resetting %s auto-increment... ", messageTable)
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s AUTO_INCREMENT = 1", messageTable)); err != nil {
		fmt.Printf("Failed: %v\n", err)
	} else {
		fmt.Println("Success")
	}
}

func resetPostgres(cfg config.DatabaseConfig) {
	db, err := dbPkg.InitDB(cfg)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbPkg.CloseDB()
	fmt.Println("Database connected successfully")

	fmt.Printf("Truncating table %s... ", messageTable)
	if err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", messageTable)).Error; err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Println("Success")
}

func resetStats(cfg config.RedisConfig) {
	if err := redisPkg.InitRedis(cfg); err != nil {
		fmt.Printf("Redis unavailable, statistics not cleared: %v\n", err)
		return
	}
	defer redisPkg.Close()

	ctx := context.Background()
	client := redisPkg.GetClient()
	keys, err := client.Keys(ctx, redisPkg.StatsKeyPrefix+"*").Result()
	if err != nil {
		fmt.Printf("Listing statistics keys failed: %v\n", err)
		return
	}
	if len(keys) == 0 {
		fmt.Println("No statistics keys found")
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		fmt.Printf("Clearing statistics failed: %v\n", err)
		return
	}
	fmt.Printf("Cleared %d statistics keys\n", len(keys))
}
