package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vigil/internal/export"
	"vigil/internal/history"
	"vigil/internal/media"
	"vigil/internal/pipeline"
)

// createJob accepts a media upload and returns a job id immediately; the job
// runs asynchronously.
func (a *API) createJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.cfg.Server.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		fail(c, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, err := media.KindForExt(ext); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	dstPath := filepath.Join(a.cfg.Storage.UploadDir, uuid.NewString()+ext)
	dst, err := os.Create(dstPath)
	if err != nil {
		a.logger.Error("save upload", "err", err)
		fail(c, http.StatusInternalServerError, "could not store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dstPath)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		a.logger.Error("save upload", "err", err)
		fail(c, http.StatusInternalServerError, "could not store upload")
		return
	}
	dst.Close()

	var detectors []string
	if v := c.PostForm("detectors"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				detectors = append(detectors, name)
			}
		}
	}

	job, err := a.orc.Submit(pipeline.SubmitInput{
		SourceName: header.Filename,
		SourcePath: dstPath,
		Detectors:  detectors,
	})
	if err != nil {
		os.Remove(dstPath)
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": job.ID, "status": job.Status})
}

func (a *API) getJob(c *gin.Context) {
	entry, err := a.orc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fail(c, http.StatusNotFound, "unknown job id")
			return
		}
		a.logger.Error("job status", "err", err)
		fail(c, http.StatusInternalServerError, "status lookup failed")
		return
	}
	c.JSON(http.StatusOK, entry)
}

// deleteJob cancels a running job, or removes a stored terminal job from
// history along with its retained upload.
func (a *API) deleteJob(c *gin.Context) {
	id := c.Param("id")
	if a.orc.Cancel(id) {
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
		return
	}

	entry, err := a.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fail(c, http.StatusNotFound, "unknown job id")
			return
		}
		a.logger.Error("delete job", "err", err)
		fail(c, http.StatusInternalServerError, "delete failed")
		return
	}

	if err := a.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fail(c, http.StatusNotFound, "unknown job id")
			return
		}
		a.logger.Error("delete job", "err", err)
		fail(c, http.StatusInternalServerError, "delete failed")
		return
	}

	if entry.SourcePath != "" {
		if err := os.Remove(entry.SourcePath); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("remove upload", "job", id, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (a *API) exportJob(c *gin.Context) {
	entry, err := a.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			fail(c, http.StatusNotFound, "unknown job id")
			return
		}
		a.logger.Error("export lookup", "err", err)
		fail(c, http.StatusInternalServerError, "export failed")
		return
	}
	if entry.Status != string(pipeline.StatusSucceeded) || entry.Report == nil {
		fail(c, http.StatusNotFound, "job has no report")
		return
	}

	format := export.Format(c.DefaultQuery("format", "json"))
	artifact, err := a.exporter.Render(c.Request.Context(), entry, format)
	if err != nil {
		if errors.Is(err, export.ErrUnsupportedFormat) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("export render", "err", err)
		fail(c, http.StatusInternalServerError, "export failed")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}
