package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"sns-system/config"
	"sns-system/internal/model"
	"sns-system/internal/repository"
	"sns-system/internal/service"
	dbPkg "sns-system/pkg/db"
	"sns-system/pkg/jwt"

	"gorm.io/gorm"
)

// 清空顺序：子表在前
var tables = []interface{}{
	&model.NotificationContributor{},
	&model.Notification{},
	&model.Friendship{},
	&model.User{},
}

func main() {
	yes := flag.Bool("yes", false, "skip confirmation")
	seed := flag.Int("seed", 0, "create N demo users after reset and print their tokens")
	flag.Parse()

	cfg := config.LoadConfig()

	db, err := dbPkg.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbPkg.Close(db)

	if err := dbPkg.AutoMigrate(db, tables...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("Database connected successfully")
	fmt.Printf("Driver: %s, Database: %s\n", cfg.Database.Driver, cfg.Database.Database)

	if !*yes {
		fmt.Print("\nWARNING: This operation will CLEAR ALL DATA in tables [notification_contributor, notification, friendship, user]!\n")
		fmt.Print("Type 'YES' to confirm: ")
		var confirm string
		fmt.Scanln(&confirm)
		if confirm != "YES" {
			fmt.Println("Operation cancelled")
			return
		}
	}

	for _, table := range tables {
		stmt := &gorm.Statement{DB: db}
		_ = stmt.Parse(table)
		fmt.Printf("Clearing table %s... ", stmt.Schema.Table)
		// Unscoped 连同软删除记录一起清除
		if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(table).Error; err != nil {
			fmt.Printf("Failed: %v\n", err)
		} else {
			fmt.Println("Success")
		}
	}

	fmt.Println("\nDatabase reset completed!")

	if *seed > 0 {
		seedUsers(db, cfg.JWT, *seed)
	}
}

// seedUsers 创建演示用户并打印 token，便于手工联调
func seedUsers(db *gorm.DB, jwtCfg config.JWTConfig, n int) {
	users := service.NewUserService(repository.NewUserRepository(db), jwt.NewJWTService(jwtCfg))
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		u, token, err := users.Create(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("User %d", i))
		if err != nil {
			log.Fatalf("Seed user %d failed: %v", i, err)
		}
		fmt.Printf("id=%d username=%s token=%s\n", u.ID, u.Username, token)
	}
}
