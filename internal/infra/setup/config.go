package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"collab-presence/internal/domain"
)

// DBConfig 数据库连接参数
type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN 构建 MySQL 连接字符串
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// InitDB 初始化数据库连接
func InitDB(cfg DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	logrus.Info("MySQL connected")
	return db, nil
}

// MigrateDB 自动迁移会话历史表
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.SessionHistory{}); err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

// InitRedis 初始化 Redis 连接并 Ping 一次
func InitRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	logrus.Info("Redis connected")
	return client, nil
}
