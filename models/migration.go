package models

import (
	"log"

	"bitbucket.org/mmdatafocus/benefits_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&BenefitProgram{},
		&Upload{}, &ProgramUploadRecord{}, &DataSourceRow{},
		&Person{}, &Beneficiary{}, &GroupBeneficiary{},
		&ReviewTask{}, &TaskGroup{}, &TaskExecutor{},
		&WorkflowEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
