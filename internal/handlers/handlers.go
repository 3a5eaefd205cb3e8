package handlers

import (
	"errors"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/imaging"
	"github.com/example/faceid/internal/store"
	"github.com/example/faceid/internal/verification"
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. Enrollment and
// administration endpoints sit behind the auth middleware; verification is
// open to the surrounding service layer.
func RegisterRoutes(router *gin.Engine, o *verification.Orchestrator, cfg *config.Config, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/faceid")

	api.POST("/verify", func(c *gin.Context) {
		data, ok := readImageFile(c, "image", cfg)
		if !ok {
			return
		}
		img, err := imaging.Decode(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image format"})
			return
		}

		checkLiveness := true
		if raw := c.PostForm("check_liveness"); raw != "" {
			if parsed, err := strconv.ParseBool(raw); err == nil {
				checkLiveness = parsed
			}
		}

		result, err := o.Verify(c.Request.Context(), verification.VerifyInput{
			Image:         img,
			ImageData:     data,
			CheckLiveness: checkLiveness,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/verify-multi-frame", func(c *gin.Context) {
		frames, data, ok := readImageFiles(c, "images", cfg)
		if !ok {
			return
		}
		if len(frames) < 3 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least 3 frames are required for multi-frame verification"})
			return
		}

		result, err := o.Verify(c.Request.Context(), verification.VerifyInput{
			Image:         frames[0],
			ImageData:     data[0],
			CheckLiveness: true,
			ExtraFrames:   frames[1:],
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/result/:probe_id", func(c *gin.Context) {
		result, err := o.CachedResult(c.Request.Context(), c.Param("probe_id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected := api.Group("")
	protected.Use(authMiddleware)

	protected.POST("/enroll", func(c *gin.Context) {
		personID := c.PostForm("person_id")
		displayName := c.PostForm("display_name")
		if personID == "" || displayName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "person_id and display_name are required"})
			return
		}

		images, _, ok := readImageFiles(c, "images", cfg)
		if !ok {
			return
		}

		result, err := o.Enroll(c.Request.Context(), verification.EnrollInput{
			PersonID:    personID,
			DisplayName: displayName,
			Images:      images,
		})
		if err != nil {
			switch {
			case errors.Is(err, verification.ErrDuplicatePerson):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, verification.ErrNoFaceFound), errors.Is(err, verification.ErrNoImages):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	protected.GET("/persons", func(c *gin.Context) {
		persons, err := o.ListPersons(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, persons)
	})

	protected.GET("/persons/:id", func(c *gin.Context) {
		person, err := o.GetPerson(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrPersonNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, person)
	})

	protected.DELETE("/persons/:id", func(c *gin.Context) {
		person, err := o.DeactivatePerson(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrPersonNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"person_id": person.PersonID,
			"message":   "person '" + person.DisplayName + "' has been deactivated",
		})
	})

	protected.GET("/stats", func(c *gin.Context) {
		stats, err := o.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})
}

// readImageFile validates and reads a single multipart image upload. On
// failure the response has already been written and ok is false.
func readImageFile(c *gin.Context, field string, cfg *config.Config) ([]byte, bool) {
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " file is required"})
		return nil, false
	}
	data, ok := readValidated(c, file, cfg)
	return data, ok
}

// readImageFiles reads a multi-image upload, returning both the decoded
// frames and the raw bytes of each.
func readImageFiles(c *gin.Context, field string, cfg *config.Config) ([]image.Image, [][]byte, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return nil, nil, false
	}
	files := form.File[field]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " files are required"})
		return nil, nil, false
	}

	images := make([]image.Image, 0, len(files))
	raw := make([][]byte, 0, len(files))
	for _, file := range files {
		data, ok := readValidated(c, file, cfg)
		if !ok {
			return nil, nil, false
		}
		img, err := imaging.Decode(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image format: " + file.Filename})
			return nil, nil, false
		}
		images = append(images, img)
		raw = append(raw, data)
	}
	return images, raw, true
}

func readValidated(c *gin.Context, file *multipart.FileHeader, cfg *config.Config) ([]byte, bool) {
	maxBytes := int64(cfg.MaxImageSizeMB) << 20
	if file.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds maximum allowed size"})
		return nil, false
	}
	if !allowedMIME(file.Header.Get("Content-Type"), cfg.AllowedImageMIMEs) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open uploaded file"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
		return nil, false
	}
	if int64(len(data)) > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds maximum allowed size"})
		return nil, false
	}
	return data, true
}

func allowedMIME(contentType string, allowed []string) bool {
	for _, mime := range allowed {
		if contentType == mime {
			return true
		}
	}
	return false
}
