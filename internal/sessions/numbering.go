package sessions

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	counterName  = "session_number"
	mergedSuffix = " (Groupé)"
)

var sessionNumberPattern = regexp.MustCompile(`^S#(\d+)$`)

// nextSessionNumber advances the locked counter row and formats S#<n>. The row
// is seeded from the highest existing S#<n> the first time it is needed. If the
// formatted number is somehow taken, a timestamp-suffixed number is returned.
func nextSessionNumber(tx *gorm.DB, now time.Time) (string, error) {
	var counter models.SessionCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&counter, "name = ?", counterName).Error
	if apperr.IsRecordNotFound(err) {
		highest, err := maxSessionNumber(tx)
		if err != nil {
			return "", err
		}
		seed := models.SessionCounter{Name: counterName, Value: highest}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return "", err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&counter, "name = ?", counterName).Error
		if err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	counter.Value++
	if err := tx.Model(&models.SessionCounter{}).
		Where("name = ?", counterName).
		Update("value", counter.Value).Error; err != nil {
		return "", err
	}

	number := fmt.Sprintf("S#%d", counter.Value)
	taken, err := numberTaken(tx, number)
	if err != nil {
		return "", err
	}
	if taken {
		number = fmt.Sprintf("S#%d-%d", counter.Value, now.UnixMilli())
	}
	return number, nil
}

func maxSessionNumber(tx *gorm.DB) (int64, error) {
	var numbers []string
	if err := tx.Model(&models.ProcessingSession{}).Where("session_number LIKE ?", "S#%").
		Pluck("session_number", &numbers).Error; err != nil {
		return 0, err
	}
	var highest int64
	for _, n := range numbers {
		m := sessionNumberPattern.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && v > highest {
			highest = v
		}
	}
	return highest, nil
}

func numberTaken(tx *gorm.DB, number string) (bool, error) {
	var count int64
	if err := tx.Model(&models.ProcessingSession{}).Where("session_number = ?", number).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// mergedNumber names a merge result after its first source session.
func mergedNumber(tx *gorm.DB, first string, now time.Time) (string, error) {
	number := first + mergedSuffix
	taken, err := numberTaken(tx, number)
	if err != nil {
		return "", err
	}
	if taken {
		number = fmt.Sprintf("%s-%d", number, now.UnixMilli())
	}
	return number, nil
}
