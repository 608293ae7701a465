package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
	usermodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/user"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			fmt.Println("Clearing existing seed data...")
			gormDB.Exec("DELETE FROM appointments")
			gormDB.Exec("DELETE FROM customer_mappings")
			gormDB.Exec("DELETE FROM therapists")
			gormDB.Exec("DELETE FROM users")
		}

		password := "password"
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), cfg.Security.BCryptCost)

		users := []usermodel.User{
			{Email: "wing@mail.com", FullName: "Wing Chan", PasswordHash: string(hash), IsActive: true},
			{Email: "mei@mail.com", FullName: "Mei Lau", PasswordHash: string(hash), IsActive: true},
		}
		for _, u := range users {
			var count int64
			gormDB.Model(&usermodel.User{}).Where("email = ?", u.Email).Count(&count)
			if count > 0 {
				fmt.Println("user already exists:", u.Email)
				continue
			}
			if err := gormDB.Create(&u).Error; err != nil {
				log.Fatalf("failed to insert user %s: %v", u.Email, err)
			}
			fmt.Println("Seeded user:", u.Email)
		}

		therapists := []therapistmodel.Therapist{
			{
				FullName:       "Dr. Sarah Wong",
				Title:          "Clinical Psychologist",
				Specialties:    "anxiety,depression",
				Bio:            "Fifteen years working with young adults.",
				SessionFee:     80000,
				Currency:       "HKD",
				OffersOnline:   true,
				OffersInPerson: true,
				Active:         true,
			},
			{
				FullName:       "Marcus Lee",
				Title:          "Counsellor",
				Specialties:    "relationships,stress",
				Bio:            "Couples and workplace stress counselling.",
				SessionFee:     60000,
				Currency:       "HKD",
				OffersOnline:   true,
				OffersInPerson: false,
				Active:         true,
			},
			{
				FullName:       "Dr. Priya Nair",
				Title:          "Psychotherapist",
				Specialties:    "trauma,grief",
				Bio:            "Trauma-informed therapy, in-person only.",
				SessionFee:     95000,
				Currency:       "HKD",
				OffersOnline:   false,
				OffersInPerson: true,
				Active:         true,
			},
		}
		for _, t := range therapists {
			var count int64
			gormDB.Model(&therapistmodel.Therapist{}).Where("full_name = ?", t.FullName).Count(&count)
			if count > 0 {
				fmt.Println("therapist already exists:", t.FullName)
				continue
			}
			if err := gormDB.Create(&t).Error; err != nil {
				log.Fatalf("failed to insert therapist %s: %v", t.FullName, err)
			}
			fmt.Println("Seeded therapist:", t.FullName)
		}

		fmt.Println("Seeding complete")
	},
}
