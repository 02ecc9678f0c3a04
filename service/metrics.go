package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var archivesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_archives_validated",
	Help: "Number of archives validated",
}, []string{"result"})

var importsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_imports_completed",
	Help: "Number of archive imports that ran to the end",
}, []string{"status"})

var importWarnings = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ccmigrate_import_warnings",
	Help: "Number of warnings raised while validating and importing archives",
})

var importedEntities = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_imported_entities",
	Help: "Number of entities created by archive imports",
}, []string{"kind"})

var migrationsPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ccmigrate_migrations_performed",
	Help: "Number of account migrations performed",
}, []string{"status"})
