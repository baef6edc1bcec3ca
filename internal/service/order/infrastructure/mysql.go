package infrastructure

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB 建立 MySQL 连接并返回 gorm 句柄。
// 底层用 database/sql 打开连接池，便于设置池参数和启动时探活。
func OpenDB(dsn string) (*gorm.DB, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql connection")
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping mysql")
	}

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "initialize gorm")
	}

	if err := db.AutoMigrate(&BeerOrderModel{}, &BeerOrderLineModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate beer order schema")
	}
	return db, nil
}
