package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.scholarhub.net/triage/pkg/appctx"
	"go.scholarhub.net/triage/pkg/audit"
	"go.scholarhub.net/triage/pkg/knowledge"
	"go.uber.org/zap"
)

var migrateCmd = cobra.Command{
	Use:   "migrate",
	Short: "Create the audit and knowledge tables",
	Args:  cobra.NoArgs,
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(&migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	ctx := appctx.Context()
	db, err := openDB()
	if err != nil {
		log.Fatal("Failed to open DB", zap.Error(err))
	}
	defer db.Close()
	auditStore := &audit.Store{DB: db, TableName: viper.GetString(ConfAuditTable)}
	if err := auditStore.CreateTable(ctx); err != nil {
		log.Fatal("Failed to create audit table", zap.Error(err))
	}
	knowledgeStore := &knowledge.Store{DB: db}
	if err := knowledgeStore.CreateTables(ctx); err != nil {
		log.Fatal("Failed to create knowledge tables", zap.Error(err))
	}
	log.Info("Migration complete")
}
