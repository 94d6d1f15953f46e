package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/internal/pkg/cache"
	"github.com/magictales/storyforge/internal/pkg/database"
)

const (
	CacheKeyStoriesTotal = "statistics:stories:total"
	CacheKeyStoriesDaily = "statistics:stories:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyUsers        = "statistics:users:total"
	CacheExpiration      = 30 * time.Minute
)

// StatisticsData holds the public counters shown on the landing page
type StatisticsData struct {
	TodayStories int
	TotalUsers   int
	TotalStories int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cache is due for a refresh
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cache when the interval has passed
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Failed to update statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next access to refresh the cache
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache updates all statistics in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalStories int64
	if err := db.Model(&models.Story{}).Count(&totalStories).Error; err != nil {
		log.Printf("Error counting total stories: %v", err)
		return err
	}

	// Count today's stories
	var todayStories int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Story{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayStories).Error; err != nil {
		log.Printf("Error counting today's stories: %v", err)
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyStoriesTotal, strconv.FormatInt(totalStories, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total stories: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyStoriesDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayStories, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's stories: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total users: %v", err)
		return err
	}

	log.Printf("Statistics updated in cache: Total Stories: %d, Today's Stories: %d, Total Users: %d",
		totalStories, todayStories, totalUsers)

	return nil
}

// GetTotalStories returns the total number of stories from cache or database
func GetTotalStories() int {
	val, err := cache.Get(CacheKeyStoriesTotal)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.Story{}).Count(&count).Error; err != nil {
			log.Printf("Error counting total stories: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyStoriesTotal, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching total stories: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTodayStories returns the number of stories started today from cache or database
func GetTodayStories() int {
	today := time.Now().Format("2006-01-02")
	dailyKey := fmt.Sprintf(CacheKeyStoriesDaily, today)

	val, err := cache.Get(dailyKey)
	if err != nil {
		var count int64
		db := database.GetDB()
		todayStart, _ := time.Parse("2006-01-02", today)
		todayEnd := todayStart.Add(24 * time.Hour)

		if err := db.Model(&models.Story{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&count).Error; err != nil {
			log.Printf("Error counting today's stories: %v", err)
			return 0
		}

		if err := cache.Set(dailyKey, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching today's stories: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTotalUsers returns the total number of users from cache or database
func GetTotalUsers() int {
	val, err := cache.Get(CacheKeyUsers)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			log.Printf("Error counting total users: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyUsers, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching total users: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetStatisticsData returns all statistics data as StatisticsData structure
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TodayStories: GetTodayStories(),
		TotalUsers:   GetTotalUsers(),
		TotalStories: GetTotalStories(),
	}
}
